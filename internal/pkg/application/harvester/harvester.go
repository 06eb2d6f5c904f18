package harvester

import (
	"context"
	"fmt"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ogc-harvester/harvester")

const defaultPType = "gxp_wmscsource"

// Config carries the deployment wide moderation and default settings that
// apply to every harvested resource.
type Config struct {
	// ResourcePublishing and ModerateUploads flip newly harvested
	// resources to unapproved/unpublished until a moderator acts.
	ResourcePublishing bool
	ModerateUploads    bool

	PType string
}

// Harvester imports single remote datasets into the local catalog.
type Harvester interface {
	HarvestResource(ctx context.Context, handler services.ServiceHandler, svc *domain.Service, resourceID string) error
}

func New(log zerolog.Logger, db database.Datastore, cfg Config) Harvester {
	if cfg.PType == "" {
		cfg.PType = defaultPType
	}

	return &harvester{
		log: log,
		db:  db,
		cfg: cfg,
	}
}

type harvester struct {
	log zerolog.Logger
	db  database.Datastore
	cfg Config
}

// HarvestResource runs the per resource workflow: fetch and normalize the
// remote record, guard against a previous harvest of the same
// (name, store, workspace) key, create the catalog resource and link it
// back to the service's access URL.
//
// Side effects are not rolled back when a later stage fails. Re-running a
// partially succeeded harvest fails the duplicate check instead of
// resuming.
func (h *harvester) HarvestResource(ctx context.Context, handler services.ServiceHandler, svc *domain.Service, resourceID string) (err error) {
	ctx, span := tracer.Start(ctx, "harvest-resource")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, h.log, ctx)

	fields, err := handler.ResourceFields(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to resolve resource %s: %w", resourceID, err)
	}

	exists, err := h.db.ResourceExists(fields.Name, fields.Store, fields.Workspace)
	if err != nil {
		return fmt.Errorf("failed to check for previous harvests of %s: %w", resourceID, err)
	}

	if exists {
		return &services.DuplicateResourceError{ResourceID: resourceID}
	}

	defaults := database.ResourceDefaults{
		Owner:          svc.Owner,
		SourceType:     domain.SourceTypeRemote,
		PType:          h.cfg.PType,
		RemoteTypename: svc.Name,
		IsApproved:     true,
		IsPublished:    true,
	}

	if h.cfg.ResourcePublishing || h.cfg.ModerateUploads {
		defaults.IsApproved = false
		defaults.IsPublished = false
	}

	accessURL := svc.AccessURL(svc.BaseURL)
	if svc.Method == domain.Indexed {
		defaults.OwsURL = accessURL
	}

	resource, err := h.db.CreateResource(svc.UUID, fields, defaults)
	if err != nil {
		return fmt.Errorf("failed to create resource %s: %w", resourceID, err)
	}

	if err = h.db.SetResourceKeywords(resource, fields.Keywords); err != nil {
		return fmt.Errorf("failed to set keywords on resource %s: %w", resourceID, err)
	}

	if err = h.db.SetResourcePermissions(resource); err != nil {
		return fmt.Errorf("failed to set permissions on resource %s: %w", resourceID, err)
	}

	link := domain.Link{
		Name:      fmt.Sprintf("OGC %s: %s Service", svc.Type, fields.Store),
		LinkType:  fmt.Sprintf("OGC:%s", svc.Type),
		Extension: "html",
		Mime:      "text/html",
		URL:       accessURL,
	}

	if err = h.db.LinkResource(resource, link); err != nil {
		return fmt.Errorf("failed to link resource %s: %w", resourceID, err)
	}

	log.Info().Msgf("harvested resource %s from service %s", resourceID, svc.Name)

	return nil
}
