package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrDataIntegrity          = errors.New("malformed upstream data")
)

// Reason is a machine-readable delivery failure code.
type Reason string

const (
	ReasonBlocked     Reason = "blocked"
	ReasonDeactivated Reason = "deactivated"
	ReasonNotFound    Reason = "not_found"
	ReasonMigrated    Reason = "migrated"
	ReasonPeerInvalid Reason = "peer_invalid"
	ReasonFlood       Reason = "flood"
	ReasonBadContent  Reason = "bad_content"
	ReasonUnknown     Reason = "unknown"
)

// DeliveryError is returned by destination transports.
type DeliveryError struct {
	Reason      Reason
	TargetID    string
	MigrateTo   string
	Description string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.MigrateTo != "" {
		return fmt.Sprintf("deliver to %s: %s (migrated to %s)", e.TargetID, e.Description, e.MigrateTo)
	}
	return fmt.Sprintf("deliver to %s: %s: %s", e.TargetID, e.Reason, e.Description)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the target can never be reached again.
func (e *DeliveryError) Permanent() bool {
	switch e.Reason {
	case ReasonBlocked, ReasonDeactivated, ReasonNotFound:
		return true
	}
	return false
}
