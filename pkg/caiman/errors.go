package caiman

import "errors"

var (
	// ErrNotFound means expected analysis artifacts are absent
	ErrNotFound = errors.New("caiman results not found")

	// ErrConfiguration means the planes of a load are inconsistent with each
	// other or form an unsupported combination
	ErrConfiguration = errors.New("inconsistent caiman configuration")

	// ErrUnsupported means the operation is not available for the load's mode
	ErrUnsupported = errors.New("unsupported for caiman results")
)
