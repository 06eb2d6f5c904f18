package presentation

import (
	"compress/flate"
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/harvester"
	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/application/services/sos"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ogc-harvester/internal/pkg/presentation/handlers"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type API interface {
	Start(port string) error
}

type harvesterAPI struct {
	router chi.Router
	log    zerolog.Logger
}

func NewAPI(r chi.Router, ctx context.Context, db database.Datastore) API {
	return newHarvesterAPI(r, ctx, db)
}

func newHarvesterAPI(r chi.Router, ctx context.Context, db database.Datastore) *harvesterAPI {
	log := logging.GetFromContext(ctx)

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	// Enable gzip compression for our responses
	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json")
	r.Use(compressor.Handler)
	r.Use(otelchi.Middleware("ogc-harvester", otelchi.WithChiRoutes(r)))

	a := &harvesterAPI{
		router: r,
		log:    log,
	}

	a.addHarvesterHandlers(r, db, log)
	a.addProbeHandlers(r)

	return a
}

func (a *harvesterAPI) Start(port string) error {
	a.log.Info().Msgf("Starting ogc-harvester on port:%s", port)
	return http.ListenAndServe(":"+port, a.router)
}

func (a *harvesterAPI) addHarvesterHandlers(r chi.Router, db database.Datastore, log zerolog.Logger) {
	timeoutSeconds, err := strconv.Atoi(env.GetVariableOrDefault(log, "HARVESTER_REQUEST_TIMEOUT", "30"))
	if err != nil {
		timeoutSeconds = 30
	}

	services.DefaultSRID = env.GetVariableOrDefault(log, "HARVESTER_DEFAULT_SRS", services.DefaultSRID)

	factory := &handlers.ServiceHandlerFactory{
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
		ProxyBase: os.Getenv("HARVESTER_PROXY_BASE"),
	}

	mapserverURL := os.Getenv("HARVESTER_MAPSERVER_URL")
	if mapserverURL != "" {
		factory.Stores = sos.NewStoreProvisioner(
			log,
			mapserverURL,
			env.GetVariableOrDefault(log, "HARVESTER_MAPSERVER_WORKSPACE", "cascaded-services"),
			os.Getenv("HARVESTER_MAPSERVER_USER"),
			os.Getenv("HARVESTER_MAPSERVER_PASSWORD"),
			factory.Timeout,
		)
	}

	cfg := harvester.Config{
		ResourcePublishing: env.GetVariableOrDefault(log, "HARVESTER_RESOURCE_PUBLISHING", "false") == "true",
		ModerateUploads:    env.GetVariableOrDefault(log, "HARVESTER_MODERATE_UPLOADS", "false") == "true",
	}

	hv := harvester.New(log, db, cfg)

	r.Post(
		"/api/services",
		handlers.NewRegisterServiceHandler(log, db, factory),
	)
	r.Get(
		"/api/services",
		handlers.NewRetrieveServicesHandler(log, db),
	)
	r.Get(
		"/api/services/{id}/resources",
		handlers.NewRetrieveServiceResourcesHandler(log, db, factory),
	)
	r.Get(
		"/api/services/{id}/keywords",
		handlers.NewRetrieveServiceKeywordsHandler(log, db, factory),
	)
	r.Post(
		"/api/services/{id}/resources/{resourceID}/harvest",
		handlers.NewHarvestResourceHandler(log, db, hv, factory),
	)
}

func (a *harvesterAPI) addProbeHandlers(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
