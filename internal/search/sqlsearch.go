package search

import (
	"context"

	"giftmanager/api/internal/store"
)

// IdeaStore is the slice of the data store the SQL fallback needs.
type IdeaStore interface {
	SearchIdeas(ctx context.Context, query string, limit int) ([]store.GiftIdea, error)
}

// SQLSearch implements Searcher against the primary database. It is
// the fallback when Meilisearch is down or not configured.
type SQLSearch struct {
	store IdeaStore
}

func NewSQLSearch(store IdeaStore) *SQLSearch {
	return &SQLSearch{store: store}
}

// Healthy always reports true; the database is the primary store and
// its availability is surfaced elsewhere.
func (s *SQLSearch) Healthy() bool {
	return true
}

// Search runs a pattern match over idea names and descriptions.
func (s *SQLSearch) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	ideas, err := s.store.SearchIdeas(context.Background(), q.Text, limit+q.Offset)
	if err != nil {
		return nil, 0, err
	}

	if q.Offset >= len(ideas) {
		return []Result{}, len(ideas), nil
	}
	page := ideas[q.Offset:]

	results := make([]Result, 0, len(page))
	for _, idea := range page {
		results = append(results, Result{
			ID:      idea.ID,
			Name:    idea.Name,
			Snippet: idea.Description,
			ForUser: idea.ForUser,
			AddedBy: idea.AddedBy,
		})
	}
	return results, len(ideas), nil
}
