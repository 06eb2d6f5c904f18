package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/application/services/sos"
	"github.com/diwise/ogc-harvester/internal/pkg/application/services/sta"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/rs/zerolog"
)

const defaultSTAVersion = "1.1"

// ServiceHandlerFactory resolves protocol specific service handlers for
// remote endpoints, both at registration time and for already registered
// services.
type ServiceHandlerFactory struct {
	Timeout   time.Duration
	ProxyBase string
	Stores    *sos.StoreProvisioner
}

// ForURL negotiates a handler for a not yet registered endpoint. The SOS
// protocol version is carried in the URL itself; STA takes it as an
// argument and defaults to 1.1.
func (f *ServiceHandlerFactory) ForURL(ctx context.Context, log zerolog.Logger, rawURL string, svcType domain.ServiceType, version string) (services.ServiceHandler, error) {
	switch svcType {
	case domain.SOS:
		options := []sos.HandlerOption{}
		if f.Stores != nil {
			options = append(options, sos.WithStoreProvisioner(f.Stores))
		}
		return sos.New(ctx, log, rawURL, f.ProxyBase, f.Timeout, options...)
	case domain.STA:
		if version == "" {
			version = defaultSTAVersion
		}
		return sta.New(log, rawURL, version, f.ProxyBase, f.Timeout)
	}

	return nil, fmt.Errorf("unknown service type %s", svcType)
}

// ForService rebuilds the handler for a previously registered service from
// its stored registration record.
func (f *ServiceHandlerFactory) ForService(ctx context.Context, log zerolog.Logger, svc *domain.Service) (services.ServiceHandler, error) {
	serviceURL := svc.BaseURL
	if svc.Type == domain.SOS && svc.ExtraQueryParams != "" {
		serviceURL = fmt.Sprintf("%s?%s", svc.BaseURL, svc.ExtraQueryParams)
	}

	return f.ForURL(ctx, log, serviceURL, svc.Type, svc.Version)
}
