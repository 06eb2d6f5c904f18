package domain

import (
	"strings"
	"time"
)

// ServiceType identifies the protocol family a remote service speaks.
type ServiceType string

const (
	SOS ServiceType = "SOS"
	STA ServiceType = "STA"
)

// IndexingMethod determines whether a remote service is proxied live through
// a cascading map server or has its metadata copied locally.
type IndexingMethod string

const (
	Indexed  IndexingMethod = "INDEXED"
	Cascaded IndexingMethod = "CASCADED"
)

const (
	SourceTypeRemote = "REMOTE"
	RemoteWorkspace  = "remoteWorkspace"
)

// OperationMethod is one method binding (GET or POST) of a remote operation.
type OperationMethod struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Operation describes one operation advertised by a remote service's
// capabilities document.
type Operation struct {
	Name          string            `json:"name"`
	Methods       []OperationMethod `json:"methods"`
	FormatOptions []string          `json:"formatOptions,omitempty"`
}

// Service is the registration record for one remote endpoint.
type Service struct {
	UUID             string
	BaseURL          string
	ExtraQueryParams string
	Type             ServiceType
	Method           IndexingMethod
	Owner            string
	MetadataOnly     bool
	Version          string
	Name             string
	Title            string
	Abstract         string
	Operations       map[string]Operation
	OnlineResource   string
}

// AccessURL returns the URL that harvested resources should link back to.
// The GetCapabilities GET binding is preferred when the operations map
// offers one, otherwise the provided fallback is returned.
func (s Service) AccessURL(fallback string) string {
	op, ok := s.Operations["GetCapabilities"]
	if !ok {
		return fallback
	}

	for _, m := range op.Methods {
		if strings.EqualFold(m.Type, "GET") && m.URL != "" {
			return m.URL
		}
	}

	return fallback
}

// ResourceSummary is the id+name projection of one remote dataset.
type ResourceSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}

// ResourceFields is the canonical field set produced by normalizing a remote
// offering or datastream, ready for catalog creation.
type ResourceFields struct {
	Name      string
	Store     string
	Subtype   string
	Workspace string
	Typename  string
	Alternate string
	Title     string
	Abstract  string

	// BBox holds the bounding box in canonical order: minx, maxx, miny, maxy.
	BBox [4]float64
	SRID string

	Keywords []string

	TemporalExtentStart *time.Time
	TemporalExtentEnd   *time.Time
}

// Link is a cross reference from a catalog resource back to the remote
// service endpoint it was harvested from.
type Link struct {
	Name      string
	LinkType  string
	Extension string
	Mime      string
	URL       string
}
