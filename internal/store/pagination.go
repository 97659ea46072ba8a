package store

// PaginationParams contains offset-based pagination request parameters.
type PaginationParams struct {
	Limit  int // Number of items per page (defaults to 100 with a maximum of 500)
	Offset int // Number of items to skip (zero for first page)
}

// PaginatedResult contains paginated data and metadata.
type PaginatedResult[T any] struct {
	Items   []T  `json:"items"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// DefaultPaginationParams returns sensible defaults.
func DefaultPaginationParams() PaginationParams {
	return PaginationParams{
		Limit:  100,
		Offset: 0,
	}
}

// Validate checks and corrects pagination parameters.
func (p *PaginationParams) Validate() {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// NewPaginatedResult builds a result page from items fetched with limit+1.
// If more than limit items were fetched, the extra one is dropped and
// HasMore is set.
func NewPaginatedResult[T any](items []T, params PaginationParams) PaginatedResult[T] {
	hasMore := false
	if len(items) > params.Limit {
		items = items[:params.Limit]
		hasMore = true
	}
	if items == nil {
		items = []T{}
	}
	return PaginatedResult[T]{
		Items:   items,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: hasMore,
	}
}
