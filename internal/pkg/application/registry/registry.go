package registry

import (
	"fmt"
	"io"

	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"gopkg.in/yaml.v2"
)

// RemoteService is one pre-declared remote endpoint that should be
// registered when the service starts.
type RemoteService struct {
	URL     string `yaml:"url"`
	Type    string `yaml:"type"`
	Version string `yaml:"version"`
	Method  string `yaml:"method"`
	Owner   string `yaml:"owner"`
}

type registryFile struct {
	Services []RemoteService `yaml:"services"`
}

type Registry interface {
	All() []RemoteService
}

// NewRegistry reads a yaml declaration of remote services. Entries with an
// unknown protocol family are rejected so that a typo does not silently
// drop a service.
func NewRegistry(input io.Reader) (Registry, error) {
	contents, err := io.ReadAll(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read service registry: %w", err)
	}

	file := registryFile{}
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("failed to parse service registry: %w", err)
	}

	for _, svc := range file.Services {
		if svc.URL == "" {
			return nil, fmt.Errorf("service registry entry is missing a url")
		}

		if t := domain.ServiceType(svc.Type); t != domain.SOS && t != domain.STA {
			return nil, fmt.Errorf("service %s has unknown type %s", svc.URL, svc.Type)
		}
	}

	return &registry{services: file.Services}, nil
}

type registry struct {
	services []RemoteService
}

func (r *registry) All() []RemoteService {
	return r.services
}
