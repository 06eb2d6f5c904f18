package sta

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/exp/slices"
)

var tracer = otel.Tracer("ogc-harvester/svcs/sta")

// SupportedVersions enumerates the SensorThings API versions this module
// can negotiate a client for.
var SupportedVersions = []string{"1.1"}

// ProxifiedURL rewrites a SensorThings URL to route through a proxy. The
// returned base URL is the original unproxied endpoint, which is what gets
// stored in service metadata; the proxy is transport only.
func ProxifiedURL(rawURL, proxyBase string) (proxified string, baseURL string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid service url %s: %w", rawURL, err)
	}

	parsed.RawQuery = ""
	baseURL = parsed.String()
	proxified = fmt.Sprintf("%s?url=%s", proxyBase, url.QueryEscape(baseURL))

	return proxified, baseURL, nil
}

// Connect negotiates a version specific SensorThings client for a remote
// endpoint. The returned base URL is always the unproxied canonical
// endpoint, even when the client itself routes through proxyBase.
func Connect(log zerolog.Logger, rawURL, version, proxyBase string, timeout time.Duration) (string, *Client, error) {
	clientURL := rawURL
	baseURL := rawURL

	if proxyBase != "" {
		proxified, base, err := ProxifiedURL(rawURL, proxyBase)
		if err != nil {
			return "", nil, err
		}
		clientURL = proxified
		baseURL = base
	}

	if !slices.Contains(SupportedVersions, version) {
		return "", nil, &services.UnsupportedVersionError{
			Requested: version,
			Supported: SupportedVersions,
		}
	}

	client, err := newClient(clientURL, version, timeout, log)
	if err != nil {
		return "", nil, err
	}

	return baseURL, client, nil
}

// Handler is the remote service handler for OGC SensorThings API services.
type Handler struct {
	log     zerolog.Logger
	url     string
	baseURL string
	name    string
	method  domain.IndexingMethod
	client  *Client
}

func New(log zerolog.Logger, rawURL, version, proxyBase string, timeout time.Duration) (*Handler, error) {
	baseURL, client, err := Connect(log, rawURL, version, proxyBase, timeout)
	if err != nil {
		return nil, err
	}

	return &Handler{
		log:     log,
		url:     rawURL,
		baseURL: baseURL,
		name:    services.ServiceName(rawURL),
		method:  domain.Indexed,
		client:  client,
	}, nil
}

func (h *Handler) ServiceType() domain.ServiceType {
	return domain.STA
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) CreateServiceRecord(ctx context.Context, owner string) (*domain.Service, error) {
	return &domain.Service{
		UUID:           uuid.NewString(),
		BaseURL:        h.baseURL,
		Type:           domain.STA,
		Method:         h.method,
		Owner:          owner,
		MetadataOnly:   true,
		Version:        h.client.Version(),
		Name:           h.name,
		Title:          h.name,
		Abstract:       "Not provided",
		Operations:     map[string]domain.Operation{},
		OnlineResource: h.baseURL,
	}, nil
}

func (h *Handler) HasResources(ctx context.Context) (bool, error) {
	return h.client.HasDatastreams(ctx)
}

func (h *Handler) Resources(ctx context.Context) (summaries []domain.ResourceSummary, err error) {
	ctx, span := tracer.Start(ctx, "list-datastreams")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(span, h.log, ctx)

	datastreams, err := h.client.Datastreams(ctx)
	if err != nil {
		return nil, err
	}

	summaries = make([]domain.ResourceSummary, 0, len(datastreams))
	for _, ds := range datastreams {
		summaries = append(summaries, datastreamSummary(ds))
	}

	return summaries, nil
}

func (h *Handler) ResourceFields(ctx context.Context, resourceID string) (fields *domain.ResourceFields, err error) {
	ctx, span := tracer.Start(ctx, "normalize-datastream")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, h.log, ctx)

	datastream, err := h.client.Datastream(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	summary := datastreamSummary(datastream)
	if summary.Title == "" {
		summary.Title = summary.ID
	}

	minx, miny, maxx, maxy, err := h.bbox(ctx, datastream)
	if err != nil {
		return nil, err
	}

	keywordSet, err := h.resourceKeywordSet(ctx, summary.ID)
	if err != nil {
		return nil, err
	}

	log.Debug().Msgf("normalized datastream %s into typename %s", summary.ID, services.Typename(summary.ID, summary.Title))

	return &domain.ResourceFields{
		Name:      summary.Title,
		Store:     h.name,
		Subtype:   "remote",
		Workspace: domain.RemoteWorkspace,
		Typename:  services.Typename(summary.ID, summary.Title),
		Alternate: summary.Title,
		Title:     summary.Title,
		Abstract:  summary.Abstract,
		BBox:      services.ReorderBBox(minx, miny, maxx, maxy),
		SRID:      services.DefaultSRID,
		Keywords:  services.TruncateKeywords(keywordSet),
	}, nil
}

func (h *Handler) Keywords(ctx context.Context) ([]string, error) {
	set := map[string]struct{}{}

	for _, collection := range []string{
		CollectionObservedProperties, CollectionFeaturesOfInterest,
		CollectionSensors, CollectionThings,
	} {
		names, err := h.client.Names(ctx, collection)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			set[name] = struct{}{}
		}
	}

	return sortedKeywords(set), nil
}

func (h *Handler) ResourceKeywords(ctx context.Context, resourceID string) ([]string, error) {
	set, err := h.resourceKeywordSet(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	return sortedKeywords(set), nil
}

func (h *Handler) resourceKeywordSet(ctx context.Context, resourceID string) (map[string]struct{}, error) {
	set := map[string]struct{}{}

	for _, collection := range []string{
		CollectionObservedProperties, CollectionFeaturesOfInterest,
		CollectionSensors, CollectionThings,
	} {
		names, err := h.client.NamesForDatastream(ctx, collection, resourceID)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			set[name] = struct{}{}
		}
	}

	return set, nil
}

// bbox resolves the bounding box of a datastream, preferring its
// observedArea and falling back to sweeping the coordinates of its linked
// features of interest. A provided area must span at least two positions;
// only the sweep may derive a degenerate box.
func (h *Handler) bbox(ctx context.Context, datastream Record) (minx, miny, maxx, maxy float64, err error) {
	if area, ok := datastream["observedArea"].(map[string]any); ok {
		xs, ys := coordinates(area["coordinates"])
		if len(xs) == 1 {
			return 0, 0, 0, 0, &services.InvalidBoundingBoxError{BBox: []float64{xs[0], ys[0]}}
		}
		if len(xs) > 1 {
			return envelope(xs, ys)
		}
	}

	features, err := h.client.FeaturesForDatastream(ctx, idString(datastream[iotID]))
	if err != nil {
		return 0, 0, 0, 0, err
	}

	xs := []float64{}
	ys := []float64{}
	for _, f := range features {
		if geometry, ok := f["feature"].(map[string]any); ok {
			x, y := coordinates(geometry["coordinates"])
			xs = append(xs, x...)
			ys = append(ys, y...)
		}
	}

	return envelope(xs, ys)
}

func envelope(xs, ys []float64) (minx, miny, maxx, maxy float64, err error) {
	if len(xs) == 0 || len(ys) == 0 {
		coords := append(append([]float64{}, xs...), ys...)
		return 0, 0, 0, 0, &services.InvalidBoundingBoxError{BBox: coords}
	}

	minx, maxx = xs[0], xs[0]
	for _, x := range xs {
		if x < minx {
			minx = x
		}
		if x > maxx {
			maxx = x
		}
	}

	miny, maxy = ys[0], ys[0]
	for _, y := range ys {
		if y < miny {
			miny = y
		}
		if y > maxy {
			maxy = y
		}
	}

	return minx, miny, maxx, maxy, nil
}

// coordinates flattens an arbitrarily nested GeoJSON coordinates array into
// its x and y components.
func coordinates(value any) (xs, ys []float64) {
	array, ok := value.([]any)
	if !ok || len(array) == 0 {
		return nil, nil
	}

	if x, ok := array[0].(float64); ok {
		if len(array) > 1 {
			if y, ok := array[1].(float64); ok {
				return []float64{x}, []float64{y}
			}
		}
		return nil, nil
	}

	for _, nested := range array {
		x, y := coordinates(nested)
		xs = append(xs, x...)
		ys = append(ys, y...)
	}

	return xs, ys
}

func datastreamSummary(ds Record) domain.ResourceSummary {
	summary := domain.ResourceSummary{
		ID: idString(ds[iotID]),
	}

	if name, ok := ds["name"].(string); ok {
		summary.Title = name
	}
	if description, ok := ds["description"].(string); ok {
		summary.Abstract = description
	}

	return summary
}

func idString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeywords(set map[string]struct{}) []string {
	keywords := make([]string, 0, len(set))
	for kw := range set {
		keywords = append(keywords, kw)
	}
	slices.Sort(keywords)
	return keywords
}
