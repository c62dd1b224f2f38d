package search

import (
	"log/slog"

	"giftmanager/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili *Meili
	sql   *SQLSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, sql *SQLSearch) *Service {
	return &Service{meili: meili, sql: sql}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("meilisearch error, falling back to sql", "error", err)
	}

	results, total, err := s.sql.Search(q)
	if err != nil {
		slog.Warn("sql search fallback failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIdea indexes a gift idea (fire-and-forget to Meilisearch).
func (s *Service) IndexIdea(idea store.GiftIdea) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := recordFor(idea)
	go func() {
		if err := s.meili.IndexIdea(rec); err != nil {
			slog.Warn("failed to index idea", "id", rec.ID, "error", err)
		}
	}()
}

// DeleteIdea removes a gift idea from the search index (fire-and-forget).
func (s *Service) DeleteIdea(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIdea(id); err != nil {
			slog.Warn("failed to delete idea from index", "id", id, "error", err)
		}
	}()
}

// ReindexAll pushes every idea into Meilisearch. Called at startup so a
// fresh Meilisearch instance catches up with the database.
func (s *Service) ReindexAll(ideas []store.GiftIdea) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]IdeaRecord, 0, len(ideas))
	for _, idea := range ideas {
		records = append(records, recordFor(idea))
	}
	if err := s.meili.IndexIdeas(records); err != nil {
		slog.Warn("failed to reindex ideas", "error", err)
	}
}

func recordFor(idea store.GiftIdea) IdeaRecord {
	return IdeaRecord{
		ID:          idea.ID,
		Name:        idea.Name,
		Description: idea.Description,
		ForUser:     idea.ForUser,
		AddedBy:     idea.AddedBy,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
