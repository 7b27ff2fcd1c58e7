package models

import (
	"time"
)

// IndexedFile is one .eml under the store root.
type IndexedFile struct {
	Path        string     `gorm:"column:path;primaryKey"`
	ContentHash string     `gorm:"column:content_hash;index"`
	MessageID   string     `gorm:"column:message_id;index"`
	Date        *time.Time `gorm:"column:date;index"`
	FromAddr    string     `gorm:"column:from_addr"`
	ToAddr      string     `gorm:"column:to_addr"`
	Subject     string     `gorm:"column:subject"`
	Size        int64      `gorm:"column:size"`
	Mtime       time.Time  `gorm:"column:mtime"`
}

func (IndexedFile) TableName() string {
	return "files"
}

// IndexMeta holds index bookkeeping, notably the version-control HEAD
// the index was last built at.
type IndexMeta struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (IndexMeta) TableName() string {
	return "index_meta"
}
