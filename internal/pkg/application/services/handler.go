package services

import (
	"context"

	"github.com/diwise/ogc-harvester/internal/pkg/domain"
)

// ServiceHandler is the capability set a protocol specific remote client
// exposes once it has been resolved for a given endpoint and version.
type ServiceHandler interface {
	ServiceType() domain.ServiceType
	Name() string

	// CreateServiceRecord builds the registration record for the remote
	// endpoint from its discovery metadata.
	CreateServiceRecord(ctx context.Context, owner string) (*domain.Service, error)

	// HasResources reports whether the remote exposes at least one
	// harvestable dataset.
	HasResources(ctx context.Context) (bool, error)

	// Resources lists the remote datasets as id+title+abstract summaries.
	Resources(ctx context.Context) ([]domain.ResourceSummary, error)

	// ResourceFields fetches one remote dataset by id and normalizes it
	// into the canonical resource field schema.
	ResourceFields(ctx context.Context, resourceID string) (*domain.ResourceFields, error)

	// Keywords returns the service wide keyword set. Never nil.
	Keywords(ctx context.Context) ([]string, error)

	// ResourceKeywords returns the keyword set scoped to one remote
	// dataset. Never nil.
	ResourceKeywords(ctx context.Context, resourceID string) ([]string, error)
}

// CascadableServiceHandler is implemented by handlers whose services can be
// cascaded through a map server, which requires a backing store to exist.
type CascadableServiceHandler interface {
	ServiceHandler

	CreateCascadedStore(ctx context.Context, svc *domain.Service) error
}
