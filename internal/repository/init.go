package repository

import (
	"gorm.io/gorm"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/models"
)

type Repositories struct {
	PulledMessageRepository interfaces.PulledMessageRepository
	ServerUIDRepository     interfaces.ServerUIDRepository
	SyncRunRepository       interfaces.SyncRunRepository
}

// InitRepositories wires the UID DB repositories over uids.db.
func InitRepositories(uidsDB *gorm.DB) *Repositories {
	return &Repositories{
		PulledMessageRepository: NewPulledMessageRepository(uidsDB),
		ServerUIDRepository:     NewServerUIDRepository(uidsDB),
		SyncRunRepository:       NewSyncRunRepository(uidsDB),
	}
}

// MigrateUIDDB creates or upgrades the uids.db schema.
func MigrateUIDDB(uidsDB *gorm.DB) error {
	return uidsDB.AutoMigrate(
		&models.PulledMessage{},
		&models.ServerUID{},
		&models.ServerFolder{},
		&models.SyncRun{},
	)
}

// MigrateFileIndexDB creates or upgrades the index.db schema.
func MigrateFileIndexDB(indexDB *gorm.DB) error {
	return indexDB.AutoMigrate(
		&models.IndexedFile{},
		&models.IndexMeta{},
	)
}

// MigrateMessageDB creates or upgrades the msgs.db schema used by the
// SQLite store layout.
func MigrateMessageDB(msgsDB *gorm.DB) error {
	return msgsDB.AutoMigrate(
		&models.StoredMessage{},
	)
}
