package services

import (
	"fmt"
	"strings"
)

// UnsupportedVersionError is returned when a remote client is requested for
// a protocol version this module does not implement. It is fatal to the
// calling workflow and must not be retried with the same version.
type UnsupportedVersionError struct {
	Requested string
	Supported []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("version %s is not implemented, use one of %s", e.Requested, strings.Join(e.Supported, ", "))
}

// RemoteFetchError wraps a transport failure or a malformed response from a
// remote endpoint, carrying the URL that failed.
type RemoteFetchError struct {
	URL string
	Err error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %s", e.URL, e.Err.Error())
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// InvalidBoundingBoxError is returned when a remote record does not carry
// (and no fallback can derive) a complete four coordinate bounding box.
type InvalidBoundingBoxError struct {
	BBox []float64
}

func (e *InvalidBoundingBoxError) Error() string {
	return fmt.Sprintf("resource bbox is not valid: %v", e.BBox)
}

// DuplicateResourceError signals that a resource with the same name, store
// and workspace has already been harvested into the catalog.
type DuplicateResourceError struct {
	ResourceID string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("resource %s has already been harvested", e.ResourceID)
}
