package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into API errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: no audit trail, or the entity did not exist at the requested instant
// - ErrConflict: append collided with an existing row
// - ErrUnavailable: store or cache temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
