// Package identity talks to the identity mapping service that owns master
// UUIDs and the per-service bindings hanging off them.
//
// Lookups report absence through a found flag instead of an error: an entity
// that was never created in a service is an expected outcome. Errors are
// reserved for the mapping service being unreachable or misbehaving.
package identity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrServiceUnavailable = errors.New("syncflow: identity service unavailable")
	ErrEmptyIdentifier    = errors.New("syncflow: identity identifier is empty")
)

// StatusError carries an unexpected HTTP status from the mapping service.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity %s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrServiceUnavailable }

// Resolver is the contract of the identity mapping service. Every call is a
// fresh round trip, nothing is cached.
type Resolver interface {
	// CreateMasterIdentity allocates a master UUID and binds service/localID to it.
	CreateMasterIdentity(ctx context.Context, service, localID string) (string, error)
	// GetMasterUUID resolves a service-local id to its master UUID.
	GetMasterUUID(ctx context.Context, service, localID string) (string, bool, error)
	// GetServiceID resolves a master UUID to the local id used by service.
	GetServiceID(ctx context.Context, service, masterUUID string) (string, bool, error)
	AddServiceBinding(ctx context.Context, masterUUID, service, localID string) error
	// DeleteServiceBinding clears the binding of service, keeping the master identity.
	DeleteServiceBinding(ctx context.Context, masterUUID, service string) error
}

// EnsureMaster returns the master UUID bound to service/localID, allocating one
// only when none exists yet. Duplicate create notifications therefore reuse the
// identity allocated by the first one.
func EnsureMaster(ctx context.Context, r Resolver, service, localID string) (master string, created bool, err error) {
	if localID == "" {
		return "", false, ErrEmptyIdentifier
	}
	master, found, err := r.GetMasterUUID(ctx, service, localID)
	if err != nil {
		return "", false, err
	}
	if found {
		return master, false, nil
	}
	master, err = r.CreateMasterIdentity(ctx, service, localID)
	if err != nil {
		return "", false, err
	}
	return master, true, nil
}
