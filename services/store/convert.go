package store

import (
	"context"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
)

// Convert copies every message from src into dst. Nothing is deleted
// here: the caller removes the old layout only after the copy
// succeeds, so an interrupted convert leaves the source intact.
func Convert(ctx context.Context, src, dst interfaces.MessageStore, log logger.Logger) (int64, error) {
	var copied int64
	err := src.Iter(ctx, nil, func(msg *models.StoredMessage) error {
		_, err := dst.Add(ctx, addMessage(msg))
		if err != nil {
			return err
		}
		copied++
		if copied%500 == 0 {
			log.Infof("converted %d messages", copied)
		}
		return nil
	})
	return copied, err
}

// ConvertDryRun enumerates the moves a convert would make without
// writing anything. Target paths are rendered when dst lays out a
// tree; the SQLite layout has a single destination file.
func ConvertDryRun(ctx context.Context, src, dst interfaces.MessageStore, log logger.Logger) (int64, error) {
	tree, _ := dst.(*TreeStore)

	var planned int64
	err := src.Iter(ctx, nil, func(msg *models.StoredMessage) error {
		target := "msgs.db"
		if tree != nil {
			rendered, err := tree.renderPath(addMessage(msg))
			if err != nil {
				return err
			}
			target = rendered
		}
		log.Infof("would move %s -> %s", msg.MessageID, target)
		planned++
		return nil
	})
	return planned, err
}

func addMessage(msg *models.StoredMessage) *interfaces.AddMessage {
	return &interfaces.AddMessage{
		MessageID: msg.MessageID,
		Raw:       msg.Raw,
		Folder:    msg.Folder,
		Date:      msg.Date,
		From:      msg.FromAddr,
		To:        msg.ToAddr,
		Cc:        msg.Cc,
		Subject:   msg.Subject,
		SourceUID: msg.SourceUID,
	}
}
