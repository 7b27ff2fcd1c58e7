package interfaces

import (
	"time"
)

// FolderInfo describes one remote mailbox from LIST.
type FolderInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// MessageHeaders is the parsed result of a header-fields fetch.
type MessageHeaders struct {
	UID        uint32
	MessageID  string
	Date       *time.Time
	From       string
	To         string
	Cc         string
	Subject    string
	InReplyTo  string
	References []string
}

// MailSource is the IMAP surface the engines depend on. The concrete
// client lives in services/imap; tests substitute fakes.
type MailSource interface {
	Connect() error
	ListFolders() ([]FolderInfo, error)
	Select(folder string, readonly bool) (count uint32, uidvalidity uint32, err error)
	UIDSearchAll() ([]uint32, error)
	FetchHeaders(uid uint32) (*MessageHeaders, error)
	FetchRaw(uid uint32) ([]byte, error)
	Append(folder string, raw []byte, internalDate *time.Time) error
	Logout() error
}
