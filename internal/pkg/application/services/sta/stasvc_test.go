package sta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestConnectRejectsUnsupportedVersions(t *testing.T) {
	is := is.New(t)

	_, _, err := Connect(zerolog.Logger{}, "http://example.com/sta", "1.0", "", 5*time.Second)

	versionErr := &services.UnsupportedVersionError{}
	is.True(errors.As(err, &versionErr))
	is.Equal(versionErr.Requested, "1.0")
}

func TestProxifiedURLKeepsTheOriginalAsBase(t *testing.T) {
	is := is.New(t)

	proxified, baseURL, err := ProxifiedURL("http://example.com/sta/v1.1?foo=bar", "http://proxy.local/proxy")
	is.NoErr(err)

	is.Equal(baseURL, "http://example.com/sta/v1.1")
	is.Equal(proxified, "http://proxy.local/proxy?url=http%3A%2F%2Fexample.com%2Fsta%2Fv1.1")
}

func TestCreateServiceRecordIsMetadataOnly(t *testing.T) {
	is := is.New(t)

	handler := newTestHandler(is, newScriptedServer(t, nil).URL)

	svc, err := handler.CreateServiceRecord(context.Background(), "harvest")
	is.NoErr(err)

	is.True(svc.UUID != "")
	is.True(svc.MetadataOnly)
	is.Equal(svc.Version, "1.1")
	is.Equal(svc.Abstract, "Not provided")
	is.Equal(svc.Owner, "harvest")
	is.Equal(len(svc.Operations), 0)
}

func TestResourceFieldsPreferTheObservedArea(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')": `{
			"@iot.id": 8, "name": "Water Temperature", "description": "lake sensor",
			"observedArea": {"type": "Polygon", "coordinates": [[[17.1, 62.2], [17.5, 62.6], [17.3, 62.4]]]}
		}`,
	})

	handler := newTestHandler(is, ts.URL)

	fields, err := handler.ResourceFields(context.Background(), "8")
	is.NoErr(err)

	is.Equal(fields.Title, "Water Temperature")
	is.Equal(fields.Typename, "8-water-temperature")
	is.Equal(fields.SRID, services.DefaultSRID)
	is.Equal(fields.BBox, [4]float64{17.1, 17.5, 62.2, 62.6})
}

func TestTheConfiguredSpatialReferenceIsApplied(t *testing.T) {
	is := is.New(t)

	original := services.DefaultSRID
	t.Cleanup(func() { services.DefaultSRID = original })
	services.DefaultSRID = "EPSG:3006"

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')": `{
			"@iot.id": 8, "name": "Water Temperature",
			"observedArea": {"type": "Polygon", "coordinates": [[[17.1, 62.2], [17.5, 62.6], [17.3, 62.4]]]}
		}`,
	})

	handler := newTestHandler(is, ts.URL)

	fields, err := handler.ResourceFields(context.Background(), "8")
	is.NoErr(err)
	is.Equal(fields.SRID, "EPSG:3006")
}

func TestResourceFieldsSweepFeaturesWhenObservedAreaIsMissing(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')": `{"@iot.id": 8, "name": "Water Temperature"}`,
		"/FeaturesOfInterest": `{"value": [
			{"feature": {"type": "Point", "coordinates": [17.1, 62.2]}},
			{"feature": {"type": "Point", "coordinates": [17.5, 62.6]}}
		]}`,
	})

	handler := newTestHandler(is, ts.URL)

	fields, err := handler.ResourceFields(context.Background(), "8")
	is.NoErr(err)

	is.Equal(fields.BBox, [4]float64{17.1, 17.5, 62.2, 62.6})
}

func TestResourceFieldsFailWithoutAnyGeometry(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')":   `{"@iot.id": 8, "name": "Water Temperature"}`,
		"/FeaturesOfInterest": `{"value": []}`,
	})

	handler := newTestHandler(is, ts.URL)

	_, err := handler.ResourceFields(context.Background(), "8")

	bboxErr := &services.InvalidBoundingBoxError{}
	is.True(errors.As(err, &bboxErr))
}

func TestResourceFieldsFallBackToTheIdentifierAsTitle(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')": `{
			"@iot.id": 8,
			"observedArea": {"type": "Polygon", "coordinates": [[[17.1, 62.2], [17.5, 62.6], [17.3, 62.4]]]}
		}`,
	})

	handler := newTestHandler(is, ts.URL)

	fields, err := handler.ResourceFields(context.Background(), "8")
	is.NoErr(err)

	is.Equal(fields.Title, "8")
	is.Equal(fields.Typename, "8-8")
}

func TestResourceFieldsRejectPointObservedAreas(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/Datastreams('8')": `{
			"@iot.id": 8, "name": "Water Temperature",
			"observedArea": {"type": "Point", "coordinates": [17.1, 62.2]}
		}`,
	})

	handler := newTestHandler(is, ts.URL)

	_, err := handler.ResourceFields(context.Background(), "8")

	bboxErr := &services.InvalidBoundingBoxError{}
	is.True(errors.As(err, &bboxErr))
	is.Equal(bboxErr.BBox, []float64{17.1, 62.2})
}

func TestDatastreamLookupRetriesWithoutQuotes(t *testing.T) {
	is := is.New(t)

	quoted := false
	bare := false

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "Datastreams('8')"):
			quoted = true
			w.WriteHeader(http.StatusBadRequest)
		case strings.Contains(r.URL.Path, "Datastreams(8)"):
			bare = true
			fmt.Fprint(w, `{"@iot.id": 8, "name": "Water Temperature"}`)
		default:
			fmt.Fprint(w, `{"value": []}`)
		}
	}))
	t.Cleanup(ts.Close)

	handler := newTestHandler(is, ts.URL)

	ds, err := handler.client.Datastream(context.Background(), "8")
	is.NoErr(err)
	is.True(quoted)
	is.True(bare)
	is.Equal(ds["name"], "Water Temperature")
}

func TestServiceKeywordsAreTheSortedUnionOverCollections(t *testing.T) {
	is := is.New(t)

	ts := newScriptedServer(t, map[string]string{
		"/ObservedProperties": `{"value": [{"name": "temperature"}, {"name": "level"}]}`,
		"/FeaturesOfInterest": `{"value": [{"name": "river"}]}`,
		"/Sensors":            `{"value": [{"name": "temperature"}]}`,
		"/Things":             `{"value": []}`,
	})

	handler := newTestHandler(is, ts.URL)

	keywords, err := handler.Keywords(context.Background())
	is.NoErr(err)
	is.Equal(keywords, []string{"level", "river", "temperature"})
}

// newScriptedServer serves canned JSON bodies by URL path, responding with an
// empty collection for anything the script leaves out.
func newScriptedServer(t *testing.T, script map[string]string) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := script[r.URL.Path]; ok {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, `{"value": []}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestHandler(is *is.I, url string) *Handler {
	handler, err := New(zerolog.Logger{}, url, "1.1", "", 5*time.Second)
	is.NoErr(err)
	return handler
}
