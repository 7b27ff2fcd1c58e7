package models

import (
	"time"

	"github.com/mailhoard/mailhoard/internal/enum"
)

// PulledMessage records the outcome of one UID fetch within an epoch.
// The primary key is (account, folder, uidvalidity, uid); re-pulling the
// same tuple is an idempotent upsert.
type PulledMessage struct {
	Account     string          `gorm:"column:account;primaryKey"`
	Folder      string          `gorm:"column:folder;primaryKey"`
	UIDValidity uint32          `gorm:"column:uidvalidity;primaryKey"`
	UID         uint32          `gorm:"column:uid;primaryKey"`
	ContentHash string          `gorm:"column:content_hash;index"`
	MessageID   string          `gorm:"column:message_id;index"`
	LocalPath   string          `gorm:"column:local_path"`
	PulledAt    time.Time       `gorm:"column:pulled_at"`
	Subject     string          `gorm:"column:subject"`
	MsgDate     *time.Time      `gorm:"column:msg_date;index"`
	Status      enum.PullStatus `gorm:"column:status;index"`
	SyncRunID   *int64          `gorm:"column:sync_run_id"`
	Error       string          `gorm:"column:error"`
	InReplyTo   string          `gorm:"column:in_reply_to;index"`
	References  string          `gorm:"column:references"`
	FromAddr    string          `gorm:"column:from_addr"`
	ToAddr      string          `gorm:"column:to_addr"`
}

func (PulledMessage) TableName() string {
	return "pulled_messages"
}
