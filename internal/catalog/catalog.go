// Package catalog ranks book recommendations for a reader's level, using a
// full-text index over the book catalogue when the reader names a topic.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ashureev/bookspirit/internal/domain"
)

// Source is the catalogue store the recommender reads from.
type Source interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	GetRecommendedBooks(ctx context.Context, levelCeiling, limit int) ([]domain.Book, error)
}

// Recommender answers "what should I read next" queries.
type Recommender struct {
	source Source
	logger *slog.Logger

	mu    sync.RWMutex
	index bleve.Index
	books map[string]domain.Book
}

// New creates a Recommender with an empty in-memory index. Call Refresh to
// load the catalogue.
func New(source Source, logger *slog.Logger) (*Recommender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create catalog index: %w", err)
	}
	return &Recommender{
		source: source,
		logger: logger,
		index:  index,
		books:  map[string]domain.Book{},
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	bookMapping := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = cjk.AnalyzerName
	title.Store = false
	bookMapping.AddFieldMappingsAt("title", title)

	desc := bleve.NewTextFieldMapping()
	desc.Analyzer = cjk.AnalyzerName
	desc.Store = false
	bookMapping.AddFieldMappingsAt("description", desc)

	level := bleve.NewNumericFieldMapping()
	level.IncludeInAll = false
	bookMapping.AddFieldMappingsAt("level", level)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = cjk.AnalyzerName
	indexMapping.AddDocumentMapping("_default", bookMapping)
	return indexMapping
}

// Refresh re-reads the catalogue from the source and rebuilds the index.
func (r *Recommender) Refresh(ctx context.Context) error {
	books, err := r.source.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}

	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create catalog index: %w", err)
	}
	batch := index.NewBatch()
	byID := make(map[string]domain.Book, len(books))
	for _, b := range books {
		doc := map[string]any{
			"title":       b.Title,
			"description": b.Description,
			"level":       float64(b.RecommendLevel),
		}
		if err := batch.Index(b.BookID, doc); err != nil {
			r.logger.Warn("Failed to index book", "book_id", b.BookID, "error", err)
			continue
		}
		byID[b.BookID] = b
	}
	if err := index.Batch(batch); err != nil {
		return fmt.Errorf("index books: %w", err)
	}

	r.mu.Lock()
	old := r.index
	r.index = index
	r.books = byID
	r.mu.Unlock()

	if err := old.Close(); err != nil {
		r.logger.Warn("Failed to close previous catalog index", "error", err)
	}
	r.logger.Debug("Catalog indexed", "books", len(byID))
	return nil
}

// Recommend returns up to limit books at or below levelCeiling. A non-empty
// topic ranks indexed books by relevance; with no topic or no hits the
// source's level-ordered list is used.
func (r *Recommender) Recommend(ctx context.Context, levelCeiling int, topic string, limit int) ([]domain.Book, error) {
	if limit <= 0 {
		limit = 3
	}
	if topic = strings.TrimSpace(topic); topic != "" {
		books, err := r.search(levelCeiling, topic, limit)
		if err != nil {
			r.logger.Warn("Catalog search failed, using level list", "topic", topic, "error", err)
		} else if len(books) > 0 {
			return books, nil
		}
	}
	return r.source.GetRecommendedBooks(ctx, levelCeiling, limit)
}

func (r *Recommender) search(levelCeiling int, topic string, limit int) ([]domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.books) == 0 {
		return nil, nil
	}

	titleQuery := bleve.NewMatchQuery(topic)
	titleQuery.SetField("title")
	titleQuery.SetBoost(2)
	descQuery := bleve.NewMatchQuery(topic)
	descQuery.SetField("description")
	text := bleve.NewDisjunctionQuery(titleQuery, descQuery)

	ceiling := float64(levelCeiling)
	inclusive := true
	levelQuery := bleve.NewNumericRangeInclusiveQuery(nil, &ceiling, nil, &inclusive)
	levelQuery.SetField("level")

	var q query.Query = bleve.NewConjunctionQuery(text, levelQuery)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	results, err := r.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}

	books := make([]domain.Book, 0, len(results.Hits))
	for _, hit := range results.Hits {
		if b, ok := r.books[hit.ID]; ok {
			books = append(books, b)
		}
	}
	return books, nil
}

// Close releases the index.
func (r *Recommender) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Close()
}
