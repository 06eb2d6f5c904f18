package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/persistence"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// maxLinksPerResource caps the number of service links one resource may
// accumulate across repeated harvests.
const maxLinksPerResource = 2

//ResourceDefaults carries the service derived defaults that are applied on
//top of the normalized fields when a resource is created.
type ResourceDefaults struct {
	Owner          string
	SourceType     string
	PType          string
	RemoteTypename string
	OwsURL         string
	IsApproved     bool
	IsPublished    bool
}

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	RegisterService(svc *domain.Service) error
	GetService(uuid string) (*domain.Service, error)
	GetServices() ([]domain.Service, error)

	ResourceExists(name, store, workspace string) (bool, error)
	CreateResource(serviceUUID string, fields *domain.ResourceFields, defaults ResourceDefaults) (*persistence.Resource, error)
	SetResourceKeywords(resource *persistence.Resource, keywords []string) error
	SetResourcePermissions(resource *persistence.Resource) error
	LinkResource(resource *persistence.Resource, link domain.Link) error
}

type myDB struct {
	impl *gorm.DB
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewSQLiteConnector opens a connection to a local sqlite database
func NewSQLiteConnector() ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
		}

		return db, err
	}
}

//NewDatabaseConnection initializes a new connection to the database and wraps it in a Datastore
func NewDatabaseConnection(connect ConnectorFunc, ctx context.Context) (Datastore, error) {
	log := logging.GetFromContext(ctx)

	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(
		&persistence.Service{},
		&persistence.Resource{},
		&persistence.Keyword{},
		&persistence.Link{},
		&persistence.Permission{},
	)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("connected to database")

	return &myDB{impl: impl}, nil
}

func (db *myDB) RegisterService(svc *domain.Service) error {
	operations, err := json.Marshal(svc.Operations)
	if err != nil {
		return fmt.Errorf("failed to marshal service operations: %w", err)
	}

	record := persistence.Service{
		UUID:             svc.UUID,
		BaseURL:          svc.BaseURL,
		ExtraQueryParams: svc.ExtraQueryParams,
		Type:             string(svc.Type),
		Method:           string(svc.Method),
		Owner:            svc.Owner,
		MetadataOnly:     svc.MetadataOnly,
		Version:          svc.Version,
		Name:             svc.Name,
		Title:            svc.Title,
		Abstract:         svc.Abstract,
		Operations:       string(operations),
		OnlineResource:   svc.OnlineResource,
	}

	result := db.impl.Create(&record)

	return result.Error
}

func (db *myDB) GetService(uuid string) (*domain.Service, error) {
	record := persistence.Service{}
	result := db.impl.Where(&persistence.Service{UUID: uuid}).First(&record)
	if result.Error != nil {
		return nil, result.Error
	}

	return serviceFromRecord(&record)
}

func (db *myDB) GetServices() ([]domain.Service, error) {
	records := []persistence.Service{}
	result := db.impl.Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	svcs := make([]domain.Service, 0, len(records))
	for idx := range records {
		svc, err := serviceFromRecord(&records[idx])
		if err != nil {
			return nil, err
		}
		svcs = append(svcs, *svc)
	}

	return svcs, nil
}

func serviceFromRecord(record *persistence.Service) (*domain.Service, error) {
	operations := map[string]domain.Operation{}
	if record.Operations != "" {
		if err := json.Unmarshal([]byte(record.Operations), &operations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service operations: %w", err)
		}
	}

	return &domain.Service{
		UUID:             record.UUID,
		BaseURL:          record.BaseURL,
		ExtraQueryParams: record.ExtraQueryParams,
		Type:             domain.ServiceType(record.Type),
		Method:           domain.IndexingMethod(record.Method),
		Owner:            record.Owner,
		MetadataOnly:     record.MetadataOnly,
		Version:          record.Version,
		Name:             record.Name,
		Title:            record.Title,
		Abstract:         record.Abstract,
		Operations:       operations,
		OnlineResource:   record.OnlineResource,
	}, nil
}

func (db *myDB) ResourceExists(name, store, workspace string) (bool, error) {
	var count int64
	result := db.impl.Model(&persistence.Resource{}).
		Where(&persistence.Resource{Name: name, Store: store, Workspace: workspace}).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}

	return count > 0, nil
}

func (db *myDB) CreateResource(serviceUUID string, fields *domain.ResourceFields, defaults ResourceDefaults) (*persistence.Resource, error) {
	service := persistence.Service{}
	result := db.impl.Where(&persistence.Service{UUID: serviceUUID}).First(&service)
	if result.Error != nil {
		return nil, fmt.Errorf("unknown service %s: %w", serviceUUID, result.Error)
	}

	resource := persistence.Resource{
		Name:      fields.Name,
		Store:     fields.Store,
		Workspace: fields.Workspace,
		Subtype:   fields.Subtype,
		Typename:  fields.Typename,
		Alternate: fields.Alternate,
		Title:     fields.Title,
		Abstract:  fields.Abstract,

		MinX: fields.BBox[0],
		MaxX: fields.BBox[1],
		MinY: fields.BBox[2],
		MaxY: fields.BBox[3],
		SRID: fields.SRID,

		TemporalExtentStart: fields.TemporalExtentStart,
		TemporalExtentEnd:   fields.TemporalExtentEnd,

		Owner:          defaults.Owner,
		SourceType:     defaults.SourceType,
		PType:          defaults.PType,
		RemoteTypename: defaults.RemoteTypename,
		OwsURL:         defaults.OwsURL,

		IsApproved:  defaults.IsApproved,
		IsPublished: defaults.IsPublished,

		ServiceID: service.ID,
	}

	result = db.impl.Create(&resource)
	if result.Error != nil {
		return nil, result.Error
	}

	return &resource, nil
}

func (db *myDB) SetResourceKeywords(resource *persistence.Resource, keywords []string) error {
	records := make([]persistence.Keyword, 0, len(keywords))

	for _, kw := range keywords {
		record := persistence.Keyword{}
		result := db.impl.Where(&persistence.Keyword{Value: kw}).FirstOrCreate(&record, persistence.Keyword{Value: kw})
		if result.Error != nil {
			return result.Error
		}
		records = append(records, record)
	}

	return db.impl.Model(resource).Association("Keywords").Replace(records)
}

func (db *myDB) SetResourcePermissions(resource *persistence.Resource) error {
	permissions := []persistence.Permission{
		{ResourceID: resource.ID, Grantee: resource.Owner, Access: "manage"},
	}

	if resource.IsPublished {
		permissions = append(permissions, persistence.Permission{
			ResourceID: resource.ID, Grantee: "anonymous", Access: "view",
		})
	}

	for idx := range permissions {
		result := db.impl.Create(&permissions[idx])
		if result.Error != nil {
			return result.Error
		}
	}

	return nil
}

func (db *myDB) LinkResource(resource *persistence.Resource, link domain.Link) error {
	record := persistence.Link{}
	result := db.impl.Where(&persistence.Link{ResourceID: resource.ID, Name: link.Name, LinkType: link.LinkType}).First(&record)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		var count int64
		result = db.impl.Model(&persistence.Link{}).
			Where(&persistence.Link{ResourceID: resource.ID}).
			Count(&count)
		if result.Error != nil {
			return result.Error
		}

		if count >= maxLinksPerResource {
			return nil
		}

		record = persistence.Link{
			ResourceID: resource.ID,
			Name:       link.Name,
			LinkType:   link.LinkType,
			Extension:  link.Extension,
			Mime:       link.Mime,
			URL:        link.URL,
		}
		return db.impl.Create(&record).Error
	}

	if result.Error != nil {
		return result.Error
	}

	record.Extension = link.Extension
	record.Mime = link.Mime
	record.URL = link.URL

	return db.impl.Save(&record).Error
}
