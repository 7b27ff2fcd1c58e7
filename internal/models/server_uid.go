package models

import (
	"time"
)

// ServerUID is the cached snapshot of one UID a SEARCH ALL returned.
type ServerUID struct {
	Account     string    `gorm:"column:account;primaryKey"`
	Folder      string    `gorm:"column:folder;primaryKey"`
	UIDValidity uint32    `gorm:"column:uidvalidity;primaryKey"`
	UID         uint32    `gorm:"column:uid;primaryKey"`
	MessageID   string    `gorm:"column:message_id"`
	LastSeen    time.Time `gorm:"column:last_seen"`
}

func (ServerUID) TableName() string {
	return "server_uids"
}

// ServerFolder is the per-folder snapshot driving the UID-cache TTL.
type ServerFolder struct {
	Account      string    `gorm:"column:account;primaryKey"`
	Folder       string    `gorm:"column:folder;primaryKey"`
	UIDValidity  uint32    `gorm:"column:uidvalidity"`
	MessageCount uint32    `gorm:"column:message_count"`
	LastChecked  time.Time `gorm:"column:last_checked"`
}

func (ServerFolder) TableName() string {
	return "server_folders"
}
