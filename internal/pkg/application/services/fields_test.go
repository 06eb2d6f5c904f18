package services

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestTypenameIsStableAcrossRepeatedCalls(t *testing.T) {
	is := is.New(t)

	first := Typename("ds-8", "Water Temperature")
	second := Typename("ds-8", "Water Temperature")

	is.Equal(first, second)
	is.Equal(first, "ds-8-water-temperature")
}

func TestTypenameStripsNonASCIIFromTitle(t *testing.T) {
	is := is.New(t)

	is.Equal(Typename("8", "Lufttemperatur Åkroken"), Typename("8", "Lufttemperatur kroken"))
}

func TestReorderBBoxSwapsInnerCoordinates(t *testing.T) {
	is := is.New(t)

	is.Equal(ReorderBBox(1, 2, 3, 4), [4]float64{1, 3, 2, 4})
}

func TestKeywordsAreTruncatedToOneHundredCharacters(t *testing.T) {
	is := is.New(t)

	long := strings.Repeat("a", 150)
	keywords := TruncateKeywords(map[string]struct{}{long: {}})

	is.Equal(len(keywords), 1)
	is.Equal(keywords[0], strings.Repeat("a", 100))
}

func TestDistinctKeywordsBelowTheCapAreKept(t *testing.T) {
	is := is.New(t)

	hundred := strings.Repeat("a", 100)
	hundredAndOne := strings.Repeat("a", 99) + "bc"

	keywords := TruncateKeywords(map[string]struct{}{hundred: {}, hundredAndOne: {}})

	is.Equal(len(keywords), 2)
}

func TestKeywordsSharingTheirFirstHundredCharactersCollapse(t *testing.T) {
	// truncation is applied after deduplication, so two distinct long
	// keywords with the same prefix become one entry
	is := is.New(t)

	prefix := strings.Repeat("a", 100)
	keywords := TruncateKeywords(map[string]struct{}{prefix + "x": {}, prefix + "y": {}})

	is.Equal(len(keywords), 1)
	is.Equal(keywords[0], prefix)
}

func TestServiceNameIsSlugified(t *testing.T) {
	is := is.New(t)

	is.Equal(ServiceName("https://example.com/sos?foo=bar"), ServiceName("https://example.com/sos?foo=bar"))
	is.True(!strings.Contains(ServiceName("https://example.com/sos"), "/"))
}
