package harvester

import (
	"context"
	"errors"
	"testing"

	"github.com/diwise/ogc-harvester/internal/pkg/application/services"
	"github.com/diwise/ogc-harvester/internal/pkg/domain"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ogc-harvester/internal/pkg/infrastructure/repositories/persistence"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestHarvestCreatesKeywordsPermissionsAndALink(t *testing.T) {
	is := is.New(t)

	db := &datastoreMock{}
	h := New(zerolog.Logger{}, db, Config{})

	err := h.HarvestResource(context.Background(), &handlerMock{}, testService(), "8")
	is.NoErr(err)

	is.Equal(db.created.Name, "8")
	is.Equal(db.created.Workspace, domain.RemoteWorkspace)
	is.Equal(db.createdDefaults.SourceType, domain.SourceTypeRemote)
	is.Equal(db.createdDefaults.PType, "gxp_wmscsource")
	is.Equal(db.createdDefaults.RemoteTypename, "lake-sensors")
	is.True(db.createdDefaults.IsApproved)
	is.True(db.createdDefaults.IsPublished)
	is.Equal(db.keywords, []string{"temperature"})
	is.True(db.permissionsSet)

	is.Equal(db.link.Name, "OGC STA: lake-sensors Service")
	is.Equal(db.link.LinkType, "OGC:STA")
	is.Equal(db.link.URL, "http://example.com/sta/v1.1")
}

func TestHarvestingTwiceFailsTheDuplicateGuard(t *testing.T) {
	is := is.New(t)

	db := &datastoreMock{}
	h := New(zerolog.Logger{}, db, Config{})

	err := h.HarvestResource(context.Background(), &handlerMock{}, testService(), "8")
	is.NoErr(err)

	err = h.HarvestResource(context.Background(), &handlerMock{}, testService(), "8")

	dupErr := &services.DuplicateResourceError{}
	is.True(errors.As(err, &dupErr))
	is.Equal(dupErr.ResourceID, "8")
	is.Equal(db.resourcesCreated, 1)
}

func TestModerationFlipsApprovalAndPublishing(t *testing.T) {
	is := is.New(t)

	db := &datastoreMock{}
	h := New(zerolog.Logger{}, db, Config{ModerateUploads: true})

	err := h.HarvestResource(context.Background(), &handlerMock{}, testService(), "8")
	is.NoErr(err)

	is.True(!db.createdDefaults.IsApproved)
	is.True(!db.createdDefaults.IsPublished)
}

func TestIndexedServicesGetAnOwsURL(t *testing.T) {
	is := is.New(t)

	db := &datastoreMock{}
	h := New(zerolog.Logger{}, db, Config{})

	svc := testService()
	err := h.HarvestResource(context.Background(), &handlerMock{}, svc, "8")
	is.NoErr(err)
	is.Equal(db.createdDefaults.OwsURL, svc.BaseURL)

	db = &datastoreMock{}
	h = New(zerolog.Logger{}, db, Config{})
	svc = testService()
	svc.Method = domain.Cascaded

	err = h.HarvestResource(context.Background(), &handlerMock{}, svc, "8")
	is.NoErr(err)
	is.Equal(db.createdDefaults.OwsURL, "")
}

func TestNormalizationFailuresLeaveNoSideEffects(t *testing.T) {
	is := is.New(t)

	db := &datastoreMock{}
	h := New(zerolog.Logger{}, db, Config{})

	handler := &handlerMock{fieldsErr: &services.InvalidBoundingBoxError{}}

	err := h.HarvestResource(context.Background(), handler, testService(), "8")

	bboxErr := &services.InvalidBoundingBoxError{}
	is.True(errors.As(err, &bboxErr))
	is.Equal(db.resourcesCreated, 0)
	is.True(!db.permissionsSet)
}

func testService() *domain.Service {
	return &domain.Service{
		UUID:    "c50271ab-7431-4e1c-90ba-c26f70ffba3d",
		BaseURL: "http://example.com/sta/v1.1",
		Type:    domain.STA,
		Method:  domain.Indexed,
		Owner:   "harvest",
		Name:    "lake-sensors",
	}
}

type handlerMock struct {
	fieldsErr error
}

func (m *handlerMock) ServiceType() domain.ServiceType { return domain.STA }
func (m *handlerMock) Name() string                    { return "lake-sensors" }

func (m *handlerMock) CreateServiceRecord(ctx context.Context, owner string) (*domain.Service, error) {
	return testService(), nil
}

func (m *handlerMock) HasResources(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *handlerMock) Resources(ctx context.Context) ([]domain.ResourceSummary, error) {
	return []domain.ResourceSummary{{ID: "8", Title: "Water Temperature"}}, nil
}

func (m *handlerMock) ResourceFields(ctx context.Context, resourceID string) (*domain.ResourceFields, error) {
	if m.fieldsErr != nil {
		return nil, m.fieldsErr
	}

	return &domain.ResourceFields{
		Name:      resourceID,
		Store:     "lake-sensors",
		Workspace: domain.RemoteWorkspace,
		Typename:  "8-water-temperature",
		Title:     "Water Temperature",
		BBox:      [4]float64{17.1, 17.5, 62.2, 62.6},
		SRID:      services.DefaultSRID,
		Keywords:  []string{"temperature"},
	}, nil
}

func (m *handlerMock) Keywords(ctx context.Context) ([]string, error) {
	return []string{"temperature"}, nil
}

func (m *handlerMock) ResourceKeywords(ctx context.Context, resourceID string) ([]string, error) {
	return []string{"temperature"}, nil
}

type datastoreMock struct {
	existing map[string]struct{}

	resourcesCreated int
	created          *persistence.Resource
	createdDefaults  database.ResourceDefaults
	keywords         []string
	permissionsSet   bool
	link             domain.Link
}

func (m *datastoreMock) RegisterService(svc *domain.Service) error { return nil }

func (m *datastoreMock) GetService(uuid string) (*domain.Service, error) {
	return testService(), nil
}

func (m *datastoreMock) GetServices() ([]domain.Service, error) {
	return []domain.Service{*testService()}, nil
}

func (m *datastoreMock) ResourceExists(name, store, workspace string) (bool, error) {
	_, exists := m.existing[name+"/"+store+"/"+workspace]
	return exists, nil
}

func (m *datastoreMock) CreateResource(serviceUUID string, fields *domain.ResourceFields, defaults database.ResourceDefaults) (*persistence.Resource, error) {
	if m.existing == nil {
		m.existing = map[string]struct{}{}
	}
	m.existing[fields.Name+"/"+fields.Store+"/"+fields.Workspace] = struct{}{}

	m.resourcesCreated++
	m.created = &persistence.Resource{
		Name:      fields.Name,
		Store:     fields.Store,
		Workspace: fields.Workspace,
		Owner:     defaults.Owner,
	}
	m.createdDefaults = defaults

	return m.created, nil
}

func (m *datastoreMock) SetResourceKeywords(resource *persistence.Resource, keywords []string) error {
	m.keywords = keywords
	return nil
}

func (m *datastoreMock) SetResourcePermissions(resource *persistence.Resource) error {
	m.permissionsSet = true
	return nil
}

func (m *datastoreMock) LinkResource(resource *persistence.Resource, link domain.Link) error {
	m.link = link
	return nil
}
