package fts

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/models"
)

const (
	backfillReaders   = 8
	backfillBatchSize = 100
)

// Backfill repopulates the index from every file the file index knows
// about. File reads fan out to a bounded reader pool; all index writes
// stay on this goroutine so the underlying store sees one writer.
func (x *Index) Backfill(ctx context.Context, root string, files interfaces.FileIndexRepository) (int64, error) {
	rows, err := files.ListByDate(ctx)
	if err != nil {
		return 0, err
	}

	jobs := make(chan models.IndexedFile, backfillReaders)
	docs := make(chan document, backfillReaders)

	var wg sync.WaitGroup
	for i := 0; i < backfillReaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				doc := document{
					MessageID: row.MessageID,
					Subject:   row.Subject,
					FromAddr:  row.FromAddr,
					ToAddr:    row.ToAddr,
				}
				if raw, err := os.ReadFile(filepath.Join(root, row.Path)); err == nil {
					doc.BodyText = ExtractBodyText(raw)
				} else {
					x.log.Warnf("fts backfill: cannot read %s: %v", row.Path, err)
				}
				docs <- doc
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, row := range rows {
			if row.MessageID == "" {
				continue
			}
			select {
			case jobs <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(docs)
	}()

	var indexed int64
	batch := x.idx.NewBatch()
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := x.idx.Batch(batch); err != nil {
			return err
		}
		batch = x.idx.NewBatch()
		return nil
	}

	for doc := range docs {
		if err := batch.Index(doc.MessageID, doc); err != nil {
			return indexed, err
		}
		indexed++
		if batch.Size() >= backfillBatchSize {
			if err := flush(); err != nil {
				return indexed, err
			}
		}
	}
	if err := flush(); err != nil {
		return indexed, err
	}
	if err := ctx.Err(); err != nil {
		return indexed, err
	}
	return indexed, nil
}
