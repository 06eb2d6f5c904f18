package services

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/exp/slices"
)

const (
	// MaxKeywordLength is the hard cap applied to every keyword before it
	// is handed over for persistence.
	MaxKeywordLength = 100

	maxServiceNameLength = 255
)

// DefaultSRID is used when a remote record omits a spatial reference. It is
// overridden at startup when the deployment configures another default.
var DefaultSRID = "EPSG:4326"

// ServiceName derives a deterministic display name from a service URL.
func ServiceName(serviceURL string) string {
	name := slug.Make(serviceURL)
	if len(name) > maxServiceNameLength {
		name = name[:maxServiceNameLength]
	}
	return name
}

// Typename derives the stable typename for a remote dataset from its
// identifier and title. Non ASCII characters are stripped from the title
// before slugification so that repeated harvests of the same id/title pair
// always yield the same typename.
func Typename(id, title string) string {
	ascii := strings.Builder{}
	for _, c := range title {
		if c < 128 {
			ascii.WriteRune(c)
		}
	}
	return slug.Make(fmt.Sprintf("%s-%s", id, ascii.String()))
}

// ReorderBBox converts a (minx, miny, maxx, maxy) box into the canonical
// storage order (minx, maxx, miny, maxy).
func ReorderBBox(minx, miny, maxx, maxy float64) [4]float64 {
	return [4]float64{minx, maxx, miny, maxy}
}

// TruncateKeywords turns a keyword set into a sorted slice with every entry
// capped to MaxKeywordLength characters. Truncation is applied after the set
// has been deduplicated, so two distinct long keywords sharing the same
// first 100 characters collapse into one entry.
func TruncateKeywords(set map[string]struct{}) []string {
	truncated := map[string]struct{}{}

	for kw := range set {
		if runes := []rune(kw); len(runes) > MaxKeywordLength {
			kw = string(runes[:MaxKeywordLength])
		}
		truncated[kw] = struct{}{}
	}

	keywords := make([]string, 0, len(truncated))
	for kw := range truncated {
		keywords = append(keywords, kw)
	}

	slices.Sort(keywords)

	return keywords
}
