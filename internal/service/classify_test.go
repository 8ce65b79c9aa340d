package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"video_notifier/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"blocked", &domain.DeliveryError{Reason: domain.ReasonBlocked}, Permanent},
		{"deactivated", &domain.DeliveryError{Reason: domain.ReasonDeactivated}, Permanent},
		{"not found", &domain.DeliveryError{Reason: domain.ReasonNotFound}, Permanent},
		{"migrated", &domain.DeliveryError{Reason: domain.ReasonMigrated, MigrateTo: "-1001"}, Migration},
		{"migrated without target", &domain.DeliveryError{Reason: domain.ReasonMigrated}, Transient},
		{"peer invalid", &domain.DeliveryError{Reason: domain.ReasonPeerInvalid}, Escalated},
		{"flood", &domain.DeliveryError{Reason: domain.ReasonFlood}, Transient},
		{"unknown reason", &domain.DeliveryError{Reason: domain.ReasonUnknown}, Transient},
		{"wrapped", fmt.Errorf("send: %w", &domain.DeliveryError{Reason: domain.ReasonBlocked}), Permanent},
		{"plain error", errors.New("connection reset"), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}
