package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/diwise/ogc-harvester/internal/pkg/application/harvester"
	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ogc-harvester/api")

type registerServiceRequest struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Method  string `json:"method"`
	Owner   string `json:"owner"`
}

func NewRegisterServiceHandler(logger zerolog.Logger, db database.Datastore, factory *ServiceHandlerFactory) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var err error
		ctx, span := tracer.Start(r.Context(), "register-service")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		request := registerServiceRequest{}
		if err = json.NewDecoder(r.Body).Decode(&request); err != nil {
			log.Error().Err(err).Msg("bad request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if _, err = url.ParseRequestURI(request.URL); err != nil {
			log.Error().Err(err).Msg("service url is not a valid absolute url")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		svcType := domain.ServiceType(request.Type)
		if svcType != domain.SOS && svcType != domain.STA {
			err = fmt.Errorf("unknown service type %s", request.Type)
			log.Error().Err(err).Msg("bad request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		handler, err := factory.ForURL(ctx, log, request.URL, svcType, request.Version)
		if err != nil {
			writeRemoteError(w, log, err)
			return
		}

		svc, err := handler.CreateServiceRecord(ctx, request.Owner)
		if err != nil {
			log.Error().Err(err).Msg("failed to build service record")
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		if domain.IndexingMethod(request.Method) == domain.Cascaded {
			cascadable, ok := handler.(services.CascadableServiceHandler)
			if !ok {
				err = fmt.Errorf("service type %s can not be cascaded", svcType)
				log.Error().Err(err).Msg("bad request")
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			svc.Method = domain.Cascaded

			if err = cascadable.CreateCascadedStore(ctx, svc); err != nil {
				log.Error().Err(err).Msg("failed to create cascaded store")
				w.WriteHeader(http.StatusBadGateway)
				return
			}
		}

		if err = db.RegisterService(svc); err != nil {
			log.Error().Err(err).Msg("failed to store service registration")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		responseBody, err := json.Marshal(svc)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal service to json")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{\"data\":" + string(responseBody) + "}"))
	})
}

func NewRetrieveServicesHandler(logger zerolog.Logger, db database.Datastore) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var err error
		ctx, span := tracer.Start(r.Context(), "retrieve-services")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		_, _, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		svcs, err := db.GetServices()
		if err != nil {
			log.Error().Err(err).Msg("failed to retrieve services")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		responseBody, err := json.Marshal(svcs)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal services to json")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.Write([]byte("{\"data\":" + string(responseBody) + "}"))
	})
}

func NewRetrieveServiceResourcesHandler(logger zerolog.Logger, db database.Datastore, factory *ServiceHandlerFactory) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var err error
		ctx, span := tracer.Start(r.Context(), "retrieve-service-resources")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		handler, ok := resolveHandler(ctx, w, r, log, db, factory)
		if !ok {
			return
		}

		summaries, err := handler.Resources(ctx)
		if err != nil {
			writeRemoteError(w, log, err)
			return
		}

		responseBody, err := json.Marshal(summaries)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal resources to json")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.Write([]byte("{\"data\":" + string(responseBody) + "}"))
	})
}

func NewRetrieveServiceKeywordsHandler(logger zerolog.Logger, db database.Datastore, factory *ServiceHandlerFactory) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var err error
		ctx, span := tracer.Start(r.Context(), "retrieve-service-keywords")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		handler, ok := resolveHandler(ctx, w, r, log, db, factory)
		if !ok {
			return
		}

		var keywords []string

		if resourceID, _ := url.QueryUnescape(r.URL.Query().Get("resource")); resourceID != "" {
			keywords, err = handler.ResourceKeywords(ctx, resourceID)
		} else {
			keywords, err = handler.Keywords(ctx)
		}

		if err != nil {
			writeRemoteError(w, log, err)
			return
		}

		responseBody, err := json.Marshal(keywords)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal keywords to json")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.Write([]byte("{\"data\":" + string(responseBody) + "}"))
	})
}

func NewHarvestResourceHandler(logger zerolog.Logger, db database.Datastore, hv harvester.Harvester, factory *ServiceHandlerFactory) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var err error
		ctx, span := tracer.Start(r.Context(), "harvest-resource")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logger, ctx)

		resourceID, _ := url.QueryUnescape(chi.URLParam(r, "resourceID"))
		if resourceID == "" {
			err = fmt.Errorf("no resource id is supplied in query")
			log.Error().Err(err).Msg("bad request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		serviceUUID, _ := url.QueryUnescape(chi.URLParam(r, "id"))
		svc, err := db.GetService(serviceUUID)
		if err != nil {
			log.Error().Err(err).Msgf("no service found with uuid %s", serviceUUID)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		handler, err := factory.ForService(ctx, log, svc)
		if err != nil {
			writeRemoteError(w, log, err)
			return
		}

		if err = hv.HarvestResource(ctx, handler, svc, resourceID); err != nil {
			writeRemoteError(w, log, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	})
}

func resolveHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, log zerolog.Logger, db database.Datastore, factory *ServiceHandlerFactory) (services.ServiceHandler, bool) {
	serviceUUID, _ := url.QueryUnescape(chi.URLParam(r, "id"))
	if serviceUUID == "" {
		log.Error().Msg("no service id is supplied in query")
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	svc, err := db.GetService(serviceUUID)
	if err != nil {
		log.Error().Err(err).Msgf("no service found with uuid %s", serviceUUID)
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	handler, err := factory.ForService(ctx, log, svc)
	if err != nil {
		writeRemoteError(w, log, err)
		return nil, false
	}

	return handler, true
}

// writeRemoteError maps the named error kinds onto response codes so that a
// caller can tell a duplicate harvest from a broken remote.
func writeRemoteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	duplicate := &services.DuplicateResourceError{}
	invalidBBox := &services.InvalidBoundingBoxError{}
	unsupported := &services.UnsupportedVersionError{}
	remote := &services.RemoteFetchError{}

	switch {
	case errors.As(err, &duplicate):
		log.Error().Err(err).Msg("resource has already been harvested")
		w.WriteHeader(http.StatusConflict)
	case errors.As(err, &invalidBBox):
		log.Error().Err(err).Msg("resource failed validation")
		w.WriteHeader(http.StatusUnprocessableEntity)
	case errors.As(err, &unsupported):
		log.Error().Err(err).Msg("unsupported protocol version")
		w.WriteHeader(http.StatusBadRequest)
	case errors.As(err, &remote):
		log.Error().Err(err).Msg("remote service failure")
		w.WriteHeader(http.StatusBadGateway)
	default:
		log.Error().Err(err).Msg("internal error")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
