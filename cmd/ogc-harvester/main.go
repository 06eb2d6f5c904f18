package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/diwise/ogc-harvester/internal/pkg/application/registry"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ogc-harvester/internal/pkg/presentation"
	"github.com/diwise/ogc-harvester/internal/pkg/presentation/handlers"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var servicesFileName string

func main() {
	serviceName := "ogc-harvester"
	serviceVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	log.Info().Msgf("Starting up %s ...", serviceName)

	flag.StringVar(&servicesFileName, "services", "", "A yaml file of remote services to register on startup")
	flag.Parse()

	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector(), ctx)
	if err != nil {
		log.Fatal().Msgf("failed to connect to database, shutting down... %s", err.Error())
	}

	if servicesFileName != "" {
		registerDeclaredServices(ctx, log, db, servicesFileName)
	}

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8880"
	}

	r := chi.NewRouter()

	app := presentation.NewAPI(r, ctx, db)
	err = app.Start(port)
	if err != nil {
		log.Fatal().Msgf("failed to start router: %s", err.Error())
	}
}

func registerDeclaredServices(ctx context.Context, log zerolog.Logger, db database.Datastore, path string) {
	servicesFile, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Msgf("failed to open the services file %s", path)
		return
	}
	defer servicesFile.Close()

	reg, err := registry.NewRegistry(servicesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse the services file")
	}

	registered, err := db.GetServices()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list registered services")
	}

	known := map[string]struct{}{}
	for _, svc := range registered {
		known[svc.BaseURL] = struct{}{}
	}

	timeoutSeconds, err := strconv.Atoi(env.GetVariableOrDefault(log, "HARVESTER_REQUEST_TIMEOUT", "30"))
	if err != nil {
		timeoutSeconds = 30
	}

	factory := &handlers.ServiceHandlerFactory{
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
		ProxyBase: os.Getenv("HARVESTER_PROXY_BASE"),
	}

	for _, declared := range reg.All() {
		if _, ok := known[declared.URL]; ok {
			continue
		}

		handler, err := factory.ForURL(ctx, log, declared.URL, domain.ServiceType(declared.Type), declared.Version)
		if err != nil {
			log.Error().Err(err).Msgf("failed to connect to declared service %s", declared.URL)
			continue
		}

		svc, err := handler.CreateServiceRecord(ctx, declared.Owner)
		if err != nil {
			log.Error().Err(err).Msgf("failed to build service record for %s", declared.URL)
			continue
		}

		if domain.IndexingMethod(declared.Method) == domain.Cascaded {
			svc.Method = domain.Cascaded
		}

		if err := db.RegisterService(svc); err != nil {
			log.Error().Err(err).Msgf("failed to register declared service %s", declared.URL)
			continue
		}

		log.Info().Msgf("registered remote service %s as %s", declared.URL, svc.Name)
	}
}
