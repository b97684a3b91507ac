package interfaces

import (
	"context"

	"github.com/probatio/probatio/internal/models"
)

// SearchService answers all five search modes over a tenant's corpus.
type SearchService interface {
	Search(ctx context.Context, tenantID string, req *models.SearchRequest) (*models.SearchResult, error)
}
