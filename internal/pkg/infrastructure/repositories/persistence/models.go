package persistence

import (
	"time"

	"gorm.io/gorm"
)

//Service ...
type Service struct {
	gorm.Model
	UUID             string `gorm:"uniqueIndex"`
	BaseURL          string
	ExtraQueryParams string
	Type             string
	Method           string
	Owner            string
	MetadataOnly     bool
	Version          string
	Name             string
	Title            string
	Abstract         string
	Operations       string
	OnlineResource   string

	Resources []Resource
}

//Resource ...
type Resource struct {
	gorm.Model
	Name      string `gorm:"index:idx_resource_key,unique"`
	Store     string `gorm:"index:idx_resource_key,unique"`
	Workspace string `gorm:"index:idx_resource_key,unique"`
	Subtype   string
	Typename  string
	Alternate string
	Title     string
	Abstract  string

	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
	SRID string

	TemporalExtentStart *time.Time
	TemporalExtentEnd   *time.Time

	Owner          string
	SourceType     string
	PType          string
	RemoteTypename string
	OwsURL         string

	IsApproved  bool
	IsPublished bool

	ServiceID uint

	Keywords []Keyword `gorm:"many2many:resource_keywords;"`
	Links    []Link
}

//Keyword ...
type Keyword struct {
	gorm.Model
	Value string `gorm:"uniqueIndex"`
}

//Link ...
type Link struct {
	gorm.Model
	ResourceID uint
	Name       string
	LinkType   string
	Extension  string
	Mime       string
	URL        string
}

//Permission ...
type Permission struct {
	gorm.Model
	ResourceID uint
	Grantee    string
	Access     string
}
