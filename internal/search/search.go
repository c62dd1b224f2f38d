// Package search provides full-text search over gift ideas, backed by
// Meilisearch with a SQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
	ForUser string `json:"forUser"`
	AddedBy string `json:"addedBy"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// IdeaRecord is the data we index for a gift idea.
type IdeaRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ForUser     string `json:"forUser"`
	AddedBy     string `json:"addedBy"`
}
