package fts

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/jhillyerd/enmime"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/logger"
)

// document is what gets tokenized per message. The doc ID is the
// message_id, so re-inserting replaces.
type document struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	BodyText  string `json:"body_text"`
	FromAddr  string `json:"from_addr"`
	ToAddr    string `json:"to_addr"`
}

// MessageScope answers whether a message was pulled under an account
// and folder. The UID DB repository provides it; a nil scope disables
// filtered search.
type MessageScope interface {
	MessageInScope(ctx context.Context, messageID, account, folder string) (bool, error)
}

// Index is the word-tokenized search surface over subject, body, from
// and to, with ranked results.
type Index struct {
	idx   bleve.Index
	scope MessageScope
	log   logger.Logger
}

func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("message_id", idField)
	doc.AddFieldMappingsAt("subject", textField)
	doc.AddFieldMappingsAt("body_text", textField)
	doc.AddFieldMappingsAt("from_addr", textField)
	doc.AddFieldMappingsAt("to_addr", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Open opens the index directory, creating it on first use.
func Open(path string, scope MessageScope, log logger.Logger) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open fts index at %s: %w", path, err)
	}
	return &Index{idx: idx, scope: scope, log: log}, nil
}

// Recreate removes the index directory and starts fresh.
func Recreate(path string, scope MessageScope, log logger.Logger) (*Index, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	return Open(path, scope, log)
}

var _ interfaces.FTSIndex = (*Index)(nil)

func (x *Index) Insert(messageID, subject, bodyText, fromAddr, toAddr string) error {
	if messageID == "" {
		return nil
	}
	return x.idx.Index(messageID, document{
		MessageID: messageID,
		Subject:   subject,
		BodyText:  bodyText,
		FromAddr:  fromAddr,
		ToAddr:    toAddr,
	})
}

// filterPageSize is how many ranked hits a filtered search pulls from
// bleve per round while it fills the requested window.
const filterPageSize = 200

// Search runs a query-string query: bare words, quoted phrases and
// +/- boolean operators, ranked by relevance. A non-empty filter keeps
// only hits the UID DB places under the given account/folder.
func (x *Index) Search(ctx context.Context, query string, limit, offset int, filter *interfaces.SearchFilter) ([]interfaces.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if filter == nil || (filter.Account == "" && filter.Folder == "") {
		return x.page(query, limit, offset)
	}
	if x.scope == nil {
		return nil, fmt.Errorf("filtered search needs the UID DB")
	}

	// Page through the ranked hits, keeping the in-scope ones, until
	// the window past offset is full or the hits run out.
	var window []interfaces.SearchHit
	matched := 0
	for from := 0; ; from += filterPageSize {
		hits, err := x.page(query, filterPageSize, from)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			break
		}
		for _, hit := range hits {
			ok, err := x.scope.MessageInScope(ctx, hit.MessageID, filter.Account, filter.Folder)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			matched++
			if matched <= offset {
				continue
			}
			window = append(window, hit)
			if len(window) == limit {
				return window, nil
			}
		}
		if len(hits) < filterPageSize {
			break
		}
	}
	return window, nil
}

func (x *Index) page(query string, limit, offset int) ([]interfaces.SearchHit, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, offset, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fts search %q: %w", query, err)
	}

	hits := make([]interfaces.SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, interfaces.SearchHit{MessageID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (x *Index) Count() (uint64, error) {
	return x.idx.DocCount()
}

func (x *Index) Close() error {
	return x.idx.Close()
}

// ExtractBodyText returns the indexable body of a raw message: the
// first text/plain part, or nothing when only HTML is present.
func ExtractBodyText(raw []byte) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	return env.Text
}
