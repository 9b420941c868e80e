package model

import "github.com/rotisserie/eris"

// Error taxonomy shared by the loader, classifier and pipeline. Callers wrap
// these with eris and test them with eris.Is.
var (
	// ErrCatalogUnavailable means the scene catalog could not be queried
	// after bounded retries.
	ErrCatalogUnavailable = eris.New("catalog unavailable")

	// ErrNoDataFound means no usable scene intersects the AOI and interval.
	ErrNoDataFound = eris.New("no data found")

	// ErrInsufficientSamples means a channel had no finite positive samples
	// to threshold.
	ErrInsufficientSamples = eris.New("insufficient samples")

	// ErrMalformedGrid means grids disagree on shape, transform or CRS.
	ErrMalformedGrid = eris.New("malformed grid")
)
