package models

import (
	"time"
)

// StoredMessage is a row in the SQLite message layout (msgs.db).
// Metadata columns are denormalized for listing without decoding raw.
type StoredMessage struct {
	MessageID   string     `gorm:"column:message_id;primaryKey"`
	Raw         []byte     `gorm:"column:raw"`
	ContentHash string     `gorm:"column:content_hash;index"`
	Folder      string     `gorm:"column:folder;index"`
	Date        *time.Time `gorm:"column:date;index"`
	FromAddr    string     `gorm:"column:from_addr"`
	ToAddr      string     `gorm:"column:to_addr"`
	Cc          string     `gorm:"column:cc"`
	Subject     string     `gorm:"column:subject"`
	SourceUID   uint32     `gorm:"column:source_uid"`
	Size        int64      `gorm:"column:size"`
	CreatedAt   time.Time  `gorm:"column:created_at"`

	// Path is where the message lives in the tree layout; not a column.
	Path string `gorm:"-"`
}

func (StoredMessage) TableName() string {
	return "messages"
}
