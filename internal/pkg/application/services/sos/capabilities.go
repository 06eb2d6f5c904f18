package sos

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/diwise/ogc-harvester/internal/pkg/domain"
)

// Capabilities is the parsed, version independent view of a GetCapabilities
// response.
type Capabilities struct {
	Version       string
	Title         string
	Abstract      string
	Keywords      []string
	ProviderURL   string
	Operations    map[string]domain.Operation
	OfferingOrder []string
	Offerings     map[string]Offering
}

// Offering is a read only view over one remote observation offering.
type Offering struct {
	ID          string
	Name        string
	Description string

	// BBox holds minx, miny, maxx, maxy when the offering carries a
	// complete envelope. Fewer entries fail validation downstream.
	BBox    []float64
	BBoxSRS string

	BeginPosition *time.Time
	EndPosition   *time.Time

	ObservedProperties []string
	Procedures         []string
	FeaturesOfInterest []string
}

type xlinkHref struct {
	Href string `xml:"href,attr"`
}

type envelopeXML struct {
	SrsName     string `xml:"srsName,attr"`
	LowerCorner string `xml:"lowerCorner"`
	UpperCorner string `xml:"upperCorner"`
}

type timePeriodXML struct {
	BeginPosition string `xml:"TimePeriod>beginPosition"`
	EndPosition   string `xml:"TimePeriod>endPosition"`
}

type operationXML struct {
	Name  string      `xml:"name,attr"`
	Gets  []xlinkHref `xml:"DCP>HTTP>Get"`
	Posts []xlinkHref `xml:"DCP>HTTP>Post"`
}

type identificationXML struct {
	Title              string   `xml:"Title"`
	Abstract           string   `xml:"Abstract"`
	Keywords           []string `xml:"Keywords>Keyword"`
	ServiceTypeVersion []string `xml:"ServiceTypeVersion"`
}

type providerXML struct {
	ProviderSite xlinkHref `xml:"ProviderSite"`
}

type capabilitiesDocument200 struct {
	XMLName        xml.Name          `xml:"Capabilities"`
	Version        string            `xml:"version,attr"`
	Identification identificationXML `xml:"ServiceIdentification"`
	Provider       providerXML       `xml:"ServiceProvider"`
	Operations     []operationXML    `xml:"OperationsMetadata>Operation"`
	Offerings      []struct {
		Identifier           string        `xml:"identifier"`
		Name                 string        `xml:"name"`
		Description          string        `xml:"description"`
		ObservedArea         envelopeXML   `xml:"observedArea>Envelope"`
		PhenomenonTime       timePeriodXML `xml:"phenomenonTime"`
		Procedures           []string      `xml:"procedure"`
		ObservableProperties []string      `xml:"observableProperty"`
		RelatedFeatures      []xlinkHref   `xml:"relatedFeature>FeatureRelationship>target"`
	} `xml:"contents>Contents>offering>ObservationOffering"`
}

type capabilitiesDocument100 struct {
	XMLName        xml.Name          `xml:"Capabilities"`
	Version        string            `xml:"version,attr"`
	Identification identificationXML `xml:"ServiceIdentification"`
	Provider       providerXML       `xml:"ServiceProvider"`
	Operations     []operationXML    `xml:"OperationsMetadata>Operation"`
	Offerings      []struct {
		ID                   string        `xml:"id,attr"`
		Name                 string        `xml:"name"`
		Description          string        `xml:"description"`
		BoundedBy            envelopeXML   `xml:"boundedBy>Envelope"`
		Time                 timePeriodXML `xml:"time"`
		Procedures           []xlinkHref   `xml:"procedure"`
		ObservableProperties []xlinkHref   `xml:"observedProperty"`
		Features             []xlinkHref   `xml:"featureOfInterest"`
	} `xml:"Contents>ObservationOfferingList>ObservationOffering"`
}

func parseCapabilities200(body []byte, log zerolog.Logger) (*Capabilities, error) {
	document := capabilitiesDocument200{}
	if err := xml.Unmarshal(body, &document); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities document: %w", err)
	}

	caps := newCapabilities(document.Version, document.Identification, document.Provider, document.Operations, log)

	for _, o := range document.Offerings {
		bbox, srs := parseEnvelope(o.ObservedArea)
		offering := Offering{
			ID:                 o.Identifier,
			Name:               o.Name,
			Description:        o.Description,
			BBox:               bbox,
			BBoxSRS:            srs,
			BeginPosition:      parsePosition(o.PhenomenonTime.BeginPosition),
			EndPosition:        parsePosition(o.PhenomenonTime.EndPosition),
			ObservedProperties: o.ObservableProperties,
			Procedures:         o.Procedures,
		}
		for _, f := range o.RelatedFeatures {
			if f.Href != "" {
				offering.FeaturesOfInterest = append(offering.FeaturesOfInterest, f.Href)
			}
		}
		caps.addOffering(offering)
	}

	return caps, nil
}

func parseCapabilities100(body []byte, log zerolog.Logger) (*Capabilities, error) {
	document := capabilitiesDocument100{}
	if err := xml.Unmarshal(body, &document); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities document: %w", err)
	}

	caps := newCapabilities(document.Version, document.Identification, document.Provider, document.Operations, log)

	for _, o := range document.Offerings {
		bbox, srs := parseEnvelope(o.BoundedBy)
		offering := Offering{
			ID:            o.ID,
			Name:          o.Name,
			Description:   o.Description,
			BBox:          bbox,
			BBoxSRS:       srs,
			BeginPosition: parsePosition(o.Time.BeginPosition),
			EndPosition:   parsePosition(o.Time.EndPosition),
		}
		for _, p := range o.ObservableProperties {
			offering.ObservedProperties = append(offering.ObservedProperties, p.Href)
		}
		for _, p := range o.Procedures {
			offering.Procedures = append(offering.Procedures, p.Href)
		}
		for _, f := range o.Features {
			offering.FeaturesOfInterest = append(offering.FeaturesOfInterest, f.Href)
		}
		caps.addOffering(offering)
	}

	return caps, nil
}

func newCapabilities(version string, id identificationXML, provider providerXML, operations []operationXML, log zerolog.Logger) *Capabilities {
	caps := &Capabilities{
		Version:     version,
		Title:       id.Title,
		Abstract:    id.Abstract,
		Keywords:    id.Keywords,
		ProviderURL: provider.ProviderSite.Href,
		Operations:  map[string]domain.Operation{},
		Offerings:   map[string]Offering{},
	}

	if caps.Version == "" && len(id.ServiceTypeVersion) > 0 {
		caps.Version = id.ServiceTypeVersion[0]
	}

	for _, op := range operations {
		if op.Name == "" {
			// one malformed entry must not abort discovery
			log.Error().Msg("skipping capabilities operation without a name")
			continue
		}

		operation := domain.Operation{Name: op.Name}
		for _, g := range op.Gets {
			operation.Methods = append(operation.Methods, domain.OperationMethod{Type: "Get", URL: g.Href})
		}
		for _, p := range op.Posts {
			operation.Methods = append(operation.Methods, domain.OperationMethod{Type: "Post", URL: p.Href})
		}

		caps.Operations[op.Name] = operation
	}

	return caps
}

func (c *Capabilities) addOffering(o Offering) {
	if _, exists := c.Offerings[o.ID]; !exists {
		c.OfferingOrder = append(c.OfferingOrder, o.ID)
	}
	c.Offerings[o.ID] = o
}

func parseEnvelope(e envelopeXML) ([]float64, string) {
	lower := parseCorner(e.LowerCorner)
	upper := parseCorner(e.UpperCorner)

	if len(lower) < 2 || len(upper) < 2 {
		return append(lower, upper...), e.SrsName
	}

	return []float64{lower[0], lower[1], upper[0], upper[1]}, e.SrsName
}

func parseCorner(corner string) []float64 {
	coords := []float64{}
	for _, field := range strings.Fields(corner) {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		coords = append(coords, value)
	}
	return coords
}

func parsePosition(position string) *time.Time {
	if position == "" {
		return nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if ts, err := time.Parse(layout, position); err == nil {
			return &ts
		}
	}

	return nil
}
