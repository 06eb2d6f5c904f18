package sos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/exp/slices"
)

var tracer = otel.Tracer("ogc-harvester/svcs/sos")

// SupportedVersions enumerates the SOS protocol versions this module can
// negotiate a client for.
var SupportedVersions = []string{"1.0.0", "2.0", "2.0.0"}

const defaultVersion = "2.0.0"

// CleanedURL strips the protocol envelope parameters (version, service,
// request) from a SOS endpoint URL and re-encodes the remainder with stable
// key ordering, so that repeated calls against the same logical URL hash
// identically.
func CleanedURL(rawURL string) (cleaned *url.URL, version string, err error) {
	unquoted, err := url.QueryUnescape(rawURL)
	if err != nil {
		unquoted = rawURL
	}

	cleaned, err = url.Parse(unquoted)
	if err != nil {
		return nil, "", fmt.Errorf("invalid service url %s: %w", rawURL, err)
	}

	query := cleaned.Query()

	version = defaultVersion
	if v := query.Get("version"); v != "" {
		version = v
	}

	query.Del("version")
	query.Del("service")
	query.Del("request")

	// url.Values.Encode sorts by key, which gives us the canonical form
	cleaned.RawQuery = query.Encode()

	return cleaned, version, nil
}

// ProxifiedURL rewrites a SOS URL to route through a proxy, returning the
// original unproxied endpoint alongside. The proxy is transport only and
// must not leak into stored metadata.
func ProxifiedURL(rawURL, proxyBase string) (proxified string, baseURL string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid service url %s: %w", rawURL, err)
	}

	parsed.Fragment = ""
	baseURL = parsed.String()
	proxified = fmt.Sprintf("%s?url=%s", proxyBase, url.QueryEscape(baseURL))

	return proxified, baseURL, nil
}

// Connect negotiates a version specific SOS client bound to a cleaned
// endpoint URL, optionally rewritten through proxyBase. The returned base
// URL is always the unproxied canonical endpoint.
func Connect(log zerolog.Logger, rawURL, version, proxyBase string, timeout time.Duration) (string, *Client, error) {
	clientURL := rawURL
	baseURL := rawURL

	if proxyBase == "" {
		cleaned, _, err := CleanedURL(rawURL)
		if err != nil {
			return "", nil, err
		}
		clientURL = cleaned.String()
		baseURL = clientURL
	} else {
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

	parse := parseCapabilities200
	if version == "1.0.0" {
		parse = parseCapabilities100
	}

	return baseURL, &Client{
		url:     clientURL,
		version: version,
		timeout: timeout,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log:   log,
		parse: parse,
	}, nil
}

// Client fetches and parses the capabilities document of one SOS endpoint.
// Unlike the paginated STA protocol, SOS discovery is a single eager
// document fetch.
type Client struct {
	url        string
	version    string
	timeout    time.Duration
	httpClient http.Client
	log        zerolog.Logger
	parse      func([]byte, zerolog.Logger) (*Capabilities, error)
}

func (c *Client) Version() string {
	return c.version
}

func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	requestURL, err := url.Parse(c.url)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: c.url, Err: err}
	}

	query := requestURL.Query()
	query.Set("service", "SOS")
	query.Set("request", "GetCapabilities")
	query.Set("version", c.version)
	requestURL.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL.String(), Err: err}
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL.String(), Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, &services.RemoteFetchError{
			URL: requestURL.String(),
			Err: fmt.Errorf("request failed, status code not ok: %d", response.StatusCode),
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL.String(), Err: err}
	}

	caps, err := c.parse(body, c.log)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL.String(), Err: err}
	}

	return caps, nil
}

// Handler is the remote service handler for OGC SOS services.
type Handler struct {
	log     zerolog.Logger
	url     string
	baseURL string
	name    string
	method  domain.IndexingMethod
	client  *Client
	caps    *Capabilities
	stores  *StoreProvisioner
}

type HandlerOption func(*Handler)

// WithStoreProvisioner enables cascaded store creation on the given map
// server backend.
func WithStoreProvisioner(p *StoreProvisioner) HandlerOption {
	return func(h *Handler) {
		h.stores = p
	}
}

// WithIndexingMethod overrides the default INDEXED harvesting method.
func WithIndexingMethod(method domain.IndexingMethod) HandlerOption {
	return func(h *Handler) {
		h.method = method
	}
}

func New(ctx context.Context, log zerolog.Logger, rawURL, proxyBase string, timeout time.Duration, options ...HandlerOption) (*Handler, error) {
	_, version, err := CleanedURL(rawURL)
	if err != nil {
		return nil, err
	}

	baseURL, client, err := Connect(log, rawURL, version, proxyBase, timeout)
	if err != nil {
		return nil, err
	}

	caps, err := client.GetCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:     log,
		url:     rawURL,
		baseURL: baseURL,
		name:    services.ServiceName(rawURL),
		method:  domain.Indexed,
		client:  client,
		caps:    caps,
	}

	for _, option := range options {
		option(h)
	}

	return h, nil
}

func (h *Handler) ServiceType() domain.ServiceType {
	return domain.SOS
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) CreateServiceRecord(ctx context.Context, owner string) (*domain.Service, error) {
	cleaned, version, err := CleanedURL(h.url)
	if err != nil {
		return nil, err
	}

	if h.caps.Version != "" {
		version = h.caps.Version
	}

	title := h.caps.Title
	if title == "" {
		title = h.name
	}
	abstract := h.caps.Abstract
	if abstract == "" {
		abstract = "Not provided"
	}

	return &domain.Service{
		UUID:             uuid.NewString(),
		BaseURL:          fmt.Sprintf("%s://%s%s", cleaned.Scheme, cleaned.Host, cleaned.Path),
		ExtraQueryParams: cleaned.RawQuery,
		Type:             domain.SOS,
		Method:           h.method,
		Owner:            owner,
		MetadataOnly:     true,
		Version:          version,
		Name:             h.name,
		Title:            title,
		Abstract:         abstract,
		Operations:       h.caps.Operations,
		OnlineResource:   h.caps.ProviderURL,
	}, nil
}

func (h *Handler) HasResources(ctx context.Context) (bool, error) {
	return len(h.caps.Offerings) > 0, nil
}

func (h *Handler) Resources(ctx context.Context) ([]domain.ResourceSummary, error) {
	summaries := make([]domain.ResourceSummary, 0, len(h.caps.Offerings))

	for _, id := range h.caps.OfferingOrder {
		offering := h.caps.Offerings[id]
		summaries = append(summaries, domain.ResourceSummary{
			ID:       offering.ID,
			Title:    offering.Name,
			Abstract: offering.Description,
		})
	}

	return summaries, nil
}

func (h *Handler) ResourceFields(ctx context.Context, resourceID string) (fields *domain.ResourceFields, err error) {
	_, span := tracer.Start(ctx, "normalize-offering")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, _, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, h.log, ctx)

	offering, ok := h.caps.Offerings[resourceID]
	if !ok {
		err = &services.RemoteFetchError{
			URL: h.baseURL,
			Err: fmt.Errorf("service has no offering with id %s", resourceID),
		}
		return nil, err
	}

	if len(offering.BBox) < 4 {
		return nil, &services.InvalidBoundingBoxError{BBox: offering.BBox}
	}

	srid := services.DefaultSRID
	if offering.BBoxSRS != "" {
		srid = offering.BBoxSRS
	}

	log.Debug().Msgf("normalized offering %s into typename %s", offering.ID, services.Typename(offering.ID, offering.Name))

	return &domain.ResourceFields{
		Name:                offering.ID,
		Store:               h.name,
		Subtype:             "remote",
		Workspace:           domain.RemoteWorkspace,
		Typename:            services.Typename(offering.ID, offering.Name),
		Alternate:           offering.ID,
		Title:               offering.Name,
		Abstract:            offering.Description,
		BBox:                services.ReorderBBox(offering.BBox[0], offering.BBox[1], offering.BBox[2], offering.BBox[3]),
		SRID:                srid,
		Keywords:            services.TruncateKeywords(offeringKeywordSet(offering)),
		TemporalExtentStart: offering.BeginPosition,
		TemporalExtentEnd:   offering.EndPosition,
	}, nil
}

func (h *Handler) Keywords(ctx context.Context) ([]string, error) {
	if len(h.caps.Keywords) > 0 {
		keywords := make([]string, len(h.caps.Keywords))
		copy(keywords, h.caps.Keywords)
		slices.Sort(keywords)
		return keywords, nil
	}

	set := map[string]struct{}{}
	for _, offering := range h.caps.Offerings {
		for kw := range offeringKeywordSet(offering) {
			set[kw] = struct{}{}
		}
	}

	return sortedKeywords(set), nil
}

func (h *Handler) ResourceKeywords(ctx context.Context, resourceID string) ([]string, error) {
	offering, ok := h.caps.Offerings[resourceID]
	if !ok {
		return nil, &services.RemoteFetchError{
			URL: h.baseURL,
			Err: fmt.Errorf("service has no offering with id %s", resourceID),
		}
	}

	return sortedKeywords(offeringKeywordSet(offering)), nil
}

// CreateCascadedStore makes sure that a backing store bound to this
// service's capabilities URL exists on the map server, so that cascaded
// requests can be proxied through it.
func (h *Handler) CreateCascadedStore(ctx context.Context, svc *domain.Service) error {
	if h.stores == nil {
		return fmt.Errorf("no map server has been configured for cascaded stores")
	}

	_, err := h.stores.EnsureStore(ctx, h.name, svc.AccessURL(svc.BaseURL))

	return err
}

func offeringKeywordSet(offering Offering) map[string]struct{} {
	set := map[string]struct{}{}
	for _, kw := range offering.ObservedProperties {
		set[kw] = struct{}{}
	}
	for _, kw := range offering.Procedures {
		set[kw] = struct{}{}
	}
	for _, kw := range offering.FeaturesOfInterest {
		set[kw] = struct{}{}
	}
	return set
}

func sortedKeywords(set map[string]struct{}) []string {
	keywords := make([]string, 0, len(set))
	for kw := range set {
		keywords = append(keywords, kw)
	}
	slices.Sort(keywords)
	return keywords
}
