package sta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	CollectionDatastreams        = "Datastreams"
	CollectionFeaturesOfInterest = "FeaturesOfInterest"
	CollectionObservedProperties = "ObservedProperties"
	CollectionSensors            = "Sensors"
	CollectionThings             = "Things"

	iotID       = "@iot.id"
	iotNextLink = "@iot.nextLink"
	iotCount    = "@iot.count"

	datastreamCacheTTL = 1 * time.Hour
)

// Record is one entity as returned by a SensorThings endpoint.
type Record map[string]any

// Client speaks the OData flavoured SensorThings REST protocol against one
// remote endpoint. It is owned by the handler that created it and must not
// be shared between handler instances.
type Client struct {
	baseURL    *url.URL
	version    string
	timeout    time.Duration
	httpClient http.Client
	log        zerolog.Logger

	// now is swapped out by tests to advance the datastream cache clock
	// deterministically.
	now func() time.Time

	mu          sync.Mutex
	datastreams []Record
	lastUpdate  time.Time
}

func newClient(rawURL, version string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	base := rawURL
	if !strings.Contains(base, "?") {
		base = strings.TrimRight(base, "/") + "/"
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid service url %s: %w", rawURL, err)
	}

	return &Client{
		baseURL: u,
		version: version,
		timeout: timeout,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
		now: time.Now,
	}, nil
}

func (c *Client) Version() string {
	return c.version
}

// collectionURL builds the URL for a named collection with an optional
// query, keeping identifiers and filter expressions properly escaped. Query
// parameters carried by the endpoint itself (access tokens, proxy targets)
// survive on every request, filtered or not.
func (c *Client) collectionURL(collection string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + collection
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			merged[key] = values
		}
		u.RawQuery = merged.Encode()
	}
	return u.String()
}

func (c *Client) entityURL(collection, identifier string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + fmt.Sprintf("%s(%s)", collection, identifier)
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, requestURL string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL, Err: err}
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &services.RemoteFetchError{
			URL: requestURL,
			Err: fmt.Errorf("request failed, status code not ok: %d", response.StatusCode),
		}
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL, Err: err}
	}

	document := map[string]any{}
	if err := json.Unmarshal(body, &document); err != nil {
		return nil, &services.RemoteFetchError{URL: requestURL, Err: err}
	}

	return document, nil
}

// fetchCollection performs the initial GET and then follows @iot.nextLink
// until the remote stops handing out pages, concatenating every value array
// in response order. A partial listing is never returned: any failing page
// fails the whole fetch.
func (c *Client) fetchCollection(ctx context.Context, requestURL string) ([]Record, error) {
	elements := []Record{}

	for requestURL != "" {
		document, err := c.getJSON(ctx, requestURL)
		if err != nil {
			return nil, err
		}

		values, ok := document["value"].([]any)
		if !ok {
			return nil, &services.RemoteFetchError{
				URL: requestURL,
				Err: fmt.Errorf("response carries no value array"),
			}
		}

		for _, v := range values {
			if record, ok := v.(map[string]any); ok {
				elements = append(elements, Record(record))
			}
		}

		requestURL, _ = document[iotNextLink].(string)
	}

	return elements, nil
}

// Datastreams returns the full datastream listing. The result is cached for
// one hour; every other query on this client is always live.
func (c *Client) Datastreams(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.datastreams != nil && c.now().Sub(c.lastUpdate) <= datastreamCacheTTL {
		return c.datastreams, nil
	}

	datastreams, err := c.fetchCollection(ctx, c.collectionURL(CollectionDatastreams, nil))
	if err != nil {
		return nil, err
	}

	c.datastreams = datastreams
	c.lastUpdate = c.now()

	return c.datastreams, nil
}

// Datastream fetches a single datastream by identifier. String keyed
// services expect the identifier quoted, numerically keyed ones do not, so
// the quoted form is tried first and the bare form on failure.
func (c *Client) Datastream(ctx context.Context, identifier string) (Record, error) {
	document, err := c.getJSON(ctx, c.entityURL(CollectionDatastreams, fmt.Sprintf("'%s'", identifier)))
	if err != nil || document["error"] != nil {
		document, err = c.getJSON(ctx, c.entityURL(CollectionDatastreams, identifier))
		if err != nil {
			return nil, err
		}
	}

	return Record(document), nil
}

// HasDatastreams probes the datastream count without listing the collection.
func (c *Client) HasDatastreams(ctx context.Context) (bool, error) {
	query := url.Values{}
	query.Set("$count", "true")
	query.Set("$top", "1")

	document, err := c.getJSON(ctx, c.collectionURL(CollectionDatastreams, query))
	if err != nil {
		return false, err
	}

	count, ok := document[iotCount].(float64)

	return ok && count > 0, nil
}

// FeaturesForDatastream lists the features of interest observed by one
// datastream.
func (c *Client) FeaturesForDatastream(ctx context.Context, identifier string) ([]Record, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("Observations/Datastream/id eq '%s'", identifier))

	return c.fetchCollection(ctx, c.collectionURL(CollectionFeaturesOfInterest, query))
}

// Names lists the display names of an entire collection, falling back to
// @iot.id for entities without a name.
func (c *Client) Names(ctx context.Context, collection string) ([]string, error) {
	query := url.Values{}
	query.Set("$select", "id,name")

	records, err := c.fetchCollection(ctx, c.collectionURL(collection, query))
	if err != nil {
		return nil, err
	}

	return recordNames(records), nil
}

// NamesForDatastream lists the display names of the entities in a
// collection that are related to one datastream.
func (c *Client) NamesForDatastream(ctx context.Context, collection, identifier string) ([]string, error) {
	filter := fmt.Sprintf("Datastreams/id eq '%s'", identifier)
	if collection == CollectionFeaturesOfInterest {
		filter = fmt.Sprintf("Observations/Datastream/id eq '%s'", identifier)
	}

	query := url.Values{}
	query.Set("$filter", filter)
	query.Set("$select", "id,name")

	records, err := c.fetchCollection(ctx, c.collectionURL(collection, query))
	if err != nil {
		return nil, err
	}

	return recordNames(records), nil
}

func recordNames(records []Record) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		if name, ok := r["name"].(string); ok && name != "" {
			names = append(names, name)
			continue
		}
		if id, ok := r[iotID]; ok {
			names = append(names, fmt.Sprintf("%v", id))
		}
	}
	return names
}
