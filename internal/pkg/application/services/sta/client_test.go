package sta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestFetchCollectionFollowsNextLinks(t *testing.T) {
	is := is.New(t)

	requested := []string{}

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.String())

		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"value":[{"@iot.id":1},{"@iot.id":2}],"@iot.nextLink":"%s/Datastreams?page=2"}`, ts.URL)
		case "2":
			fmt.Fprintf(w, `{"value":[{"@iot.id":3}],"@iot.nextLink":"%s/Datastreams?page=3"}`, ts.URL)
		default:
			fmt.Fprint(w, `{"value":[{"@iot.id":4},{"@iot.id":5}]}`)
		}
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	records, err := client.fetchCollection(context.Background(), client.collectionURL(CollectionDatastreams, nil))
	is.NoErr(err)

	is.Equal(len(requested), 3)
	is.Equal(len(records), 5)

	for idx, record := range records {
		is.Equal(record["@iot.id"], float64(idx+1))
	}
}

func TestDatastreamListingIsCachedForOneHour(t *testing.T) {
	is := is.New(t)

	fetches := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprint(w, `{"value":[{"@iot.id":1,"name":"level"}]}`)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	now := time.Now()
	client.now = func() time.Time { return now }

	_, err := client.Datastreams(context.Background())
	is.NoErr(err)
	_, err = client.Datastreams(context.Background())
	is.NoErr(err)
	is.Equal(fetches, 1)

	now = now.Add(61 * time.Minute)

	_, err = client.Datastreams(context.Background())
	is.NoErr(err)
	is.Equal(fetches, 2)
}

func TestHasDatastreamsUsesTheCountProbe(t *testing.T) {
	is := is.New(t)

	probe := ""
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probe = r.URL.RawQuery
		fmt.Fprint(w, `{"@iot.count":12,"value":[{"@iot.id":1}]}`)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	hasAny, err := client.HasDatastreams(context.Background())
	is.NoErr(err)
	is.True(hasAny)
	is.Equal(probe, "%24count=true&%24top=1")
}

func TestHasDatastreamsIsFalseWhenRemoteCanNotCount(t *testing.T) {
	is := is.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	hasAny, err := client.HasDatastreams(context.Background())
	is.NoErr(err)
	is.True(!hasAny)
}

func TestFailingPageFailsTheWholeFetch(t *testing.T) {
	is := is.New(t)

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			fmt.Fprintf(w, `{"value":[{"@iot.id":1}],"@iot.nextLink":"%s/Datastreams?page=2"}`, ts.URL)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	_, err := client.fetchCollection(context.Background(), client.collectionURL(CollectionDatastreams, nil))
	is.True(err != nil)

	fetchErr := &services.RemoteFetchError{}
	is.True(errors.As(err, &fetchErr))
}

func TestMalformedResponsePropagatesAsRemoteFetchError(t *testing.T) {
	is := is.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	_, err := client.Datastreams(context.Background())

	fetchErr := &services.RemoteFetchError{}
	is.True(errors.As(err, &fetchErr))
}

func TestCollectionRequestsKeepTheEndpointQuery(t *testing.T) {
	is := is.New(t)

	client := newTestClient(is, "http://example.com/sta/v1.1?token=abc")

	is.Equal(
		client.collectionURL(CollectionDatastreams, nil),
		"http://example.com/sta/v1.1/Datastreams?token=abc",
	)

	query := url.Values{}
	query.Set("$select", "id,name")

	is.Equal(
		client.collectionURL(CollectionDatastreams, query),
		"http://example.com/sta/v1.1/Datastreams?%24select=id%2Cname&token=abc",
	)
}

func TestNamesFallBackToIdentifiers(t *testing.T) {
	is := is.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[{"@iot.id":7,"name":"temperature"},{"@iot.id":8}]}`)
	}))
	defer ts.Close()

	client := newTestClient(is, ts.URL)

	names, err := client.Names(context.Background(), CollectionObservedProperties)
	is.NoErr(err)
	is.Equal(names, []string{"temperature", "8"})
}

func newTestClient(is *is.I, url string) *Client {
	client, err := newClient(url, "1.1", 5*time.Second, zerolog.Logger{})
	is.NoErr(err)
	return client
}
