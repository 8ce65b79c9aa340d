package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"video_notifier/internal/domain"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Reason
	}{
		{"blocked by user", tele.ErrBlockedByUser, domain.ReasonBlocked},
		{"kicked from channel", tele.ErrKickedFromChannel, domain.ReasonBlocked},
		{"kicked from group", tele.ErrKickedFromGroup, domain.ReasonBlocked},
		{"unlisted forbidden", errors.New("telegram: Forbidden: bot is not a member of the channel chat (403)"), domain.ReasonBlocked},
		{"user deactivated", tele.ErrUserIsDeactivated, domain.ReasonDeactivated},
		{"group deactivated", errors.New("telegram: Forbidden: group chat was deactivated (403)"), domain.ReasonDeactivated},
		{"chat not found", tele.ErrChatNotFound, domain.ReasonNotFound},
		{"channel not found", errors.New("telegram: Bad Request: channel not found (400)"), domain.ReasonNotFound},
		{"peer id invalid", errors.New("telegram: Bad Request: PEER_ID_INVALID (400)"), domain.ReasonPeerInvalid},
		{"bad url content", tele.ErrBadURLContent, domain.ReasonBadContent},
		{"wrong file id", errors.New("telegram: Bad Request: wrong file identifier/HTTP URL specified (400)"), domain.ReasonBadContent},
		{"server error", errors.New("telegram: Internal Server Error (500)"), domain.ReasonUnknown},
		{"network", errors.New("dial tcp: connection refused"), domain.ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateError("100", tt.err)

			var de *domain.DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.want, de.Reason)
			assert.Equal(t, "100", de.TargetID)
			assert.Empty(t, de.MigrateTo)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, 403, errorCode(tele.ErrBlockedByUser))
	assert.Equal(t, 429, errorCode(errors.New("telegram: Too Many Requests (429)")))
	assert.Equal(t, 0, errorCode(errors.New("timeout")))
}
