package service

import (
	"errors"

	"video_notifier/internal/domain"
)

// Class is how the dispatcher reacts to a failed send.
type Class int

const (
	// Transient failures are retried after the short delay.
	Transient Class = iota
	// Permanent failures remove the destination.
	Permanent
	// Migration rewrites the destination to its new id.
	Migration
	// Escalated failures are known to recur and are retried after the long delay.
	Escalated
)

func (c Class) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Migration:
		return "migration"
	case Escalated:
		return "escalated"
	default:
		return "transient"
	}
}

// Classify maps a transport error to a Class. Errors that are not a
// *domain.DeliveryError are transient.
func Classify(err error) Class {
	var de *domain.DeliveryError
	if !errors.As(err, &de) {
		return Transient
	}

	switch {
	case de.Permanent():
		return Permanent
	case de.Reason == domain.ReasonMigrated && de.MigrateTo != "":
		return Migration
	case de.Reason == domain.ReasonPeerInvalid:
		return Escalated
	default:
		return Transient
	}
}
