package registry

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRegistryParsesDeclaredServices(t *testing.T) {
	is := is.New(t)

	reg, err := NewRegistry(strings.NewReader(`
services:
  - url: http://example.com/sos
    type: SOS
    version: 2.0.0
    owner: harvest
  - url: http://example.com/sta/v1.1
    type: STA
    version: "1.1"
    method: INDEXED
`))
	is.NoErr(err)

	declared := reg.All()
	is.Equal(len(declared), 2)
	is.Equal(declared[0].URL, "http://example.com/sos")
	is.Equal(declared[0].Type, "SOS")
	is.Equal(declared[1].Version, "1.1")
	is.Equal(declared[1].Method, "INDEXED")
}

func TestRegistryRejectsEntriesWithoutAURL(t *testing.T) {
	is := is.New(t)

	_, err := NewRegistry(strings.NewReader(`
services:
  - type: SOS
`))
	is.True(err != nil)
}

func TestRegistryRejectsUnknownServiceTypes(t *testing.T) {
	is := is.New(t)

	_, err := NewRegistry(strings.NewReader(`
services:
  - url: http://example.com/wms
    type: WMS
`))
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "unknown type WMS"))
}

func TestRegistryAcceptsAnEmptyDeclaration(t *testing.T) {
	is := is.New(t)

	reg, err := NewRegistry(strings.NewReader(""))
	is.NoErr(err)
	is.Equal(len(reg.All()), 0)
}
