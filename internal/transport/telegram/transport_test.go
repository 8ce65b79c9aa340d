package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"video_notifier/internal/domain"
)

const testToken = "123:test"

type apiCall struct {
	Method string
	Params map[string]any
}

type TransportTestSuite struct {
	suite.Suite
	ctx       context.Context
	server    *httptest.Server
	mu        sync.Mutex
	calls     []apiCall
	responses []string
	response  string
	transport *Transport
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (s *TransportTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.calls = nil
	s.responses = nil
	s.response = ""
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		params := map[string]any{}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)

		s.mu.Lock()
		s.calls = append(s.calls, apiCall{Method: method, Params: params})
		response := s.response
		if len(s.responses) > 0 {
			response, s.responses = s.responses[0], s.responses[1:]
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))

	var err error
	s.transport, err = New(Config{
		Token:         testToken,
		APIURL:        s.server.URL,
		Timeout:       5 * time.Second,
		RateLimit:     100,
		ChatRateLimit: 600,
		FloodAttempts: 3,
		MaxFloodWait:  time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
}

func (s *TransportTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *TransportTestSuite) lastCall() apiCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.calls)
	return s.calls[len(s.calls)-1]
}

func (s *TransportTestSuite) deliveryError(err error) *domain.DeliveryError {
	var de *domain.DeliveryError
	s.Require().True(errors.As(err, &de), "expected delivery error, got %v", err)
	return de
}

func (s *TransportTestSuite) TestSendText() {
	s.response = `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":100,"type":"private"},"text":"hi"}}`

	receipt, err := s.transport.SendText(s.ctx, "100", "<b>hi</b>")

	s.Require().NoError(err)
	s.Equal(&domain.Receipt{TargetID: "100", MessageID: 7}, receipt)

	call := s.lastCall()
	s.Equal("sendMessage", call.Method)
	s.Equal("100", call.Params["chat_id"])
	s.Equal("<b>hi</b>", call.Params["text"])
	s.Equal("HTML", call.Params["parse_mode"])
}

func (s *TransportTestSuite) TestSendText_ChannelUsername() {
	s.response = `{"ok":true,"result":{"message_id":8,"date":1700000000,"chat":{"id":-100,"type":"channel"}}}`

	_, err := s.transport.SendText(s.ctx, "@news", "hi")

	s.Require().NoError(err)
	s.Equal("@news", s.lastCall().Params["chat_id"])
}

func (s *TransportTestSuite) TestSendImage_URL() {
	s.response = `{"ok":true,"result":{"message_id":9,"date":1700000000,"chat":{"id":100,"type":"private"},` +
		`"photo":[{"file_id":"small","file_unique_id":"s","width":90,"height":90},` +
		`{"file_id":"large","file_unique_id":"l","width":480,"height":360}]}}`

	receipt, err := s.transport.SendImage(s.ctx, "100", "https://i.ytimg.com/vi/abc/hqdefault.jpg", "caption")

	s.Require().NoError(err)
	s.Equal(9, receipt.MessageID)
	s.Equal("large", receipt.ImageID)

	call := s.lastCall()
	s.Equal("sendPhoto", call.Method)
	s.Equal("https://i.ytimg.com/vi/abc/hqdefault.jpg", call.Params["photo"])
	s.Equal("caption", call.Params["caption"])
}

func (s *TransportTestSuite) TestSendImage_FileID() {
	s.response = `{"ok":true,"result":{"message_id":10,"date":1700000000,"chat":{"id":100,"type":"private"},` +
		`"photo":[{"file_id":"cached","file_unique_id":"c","width":480,"height":360}]}}`

	receipt, err := s.transport.SendImage(s.ctx, "100", "cached", "caption")

	s.Require().NoError(err)
	s.Equal("cached", receipt.ImageID)
	s.Equal("cached", s.lastCall().Params["photo"])
}

func (s *TransportTestSuite) TestSend_Blocked() {
	s.response = `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`

	_, err := s.transport.SendText(s.ctx, "100", "hi")

	de := s.deliveryError(err)
	s.Equal(domain.ReasonBlocked, de.Reason)
	s.True(de.Permanent())
}

func (s *TransportTestSuite) TestSend_Migrated() {
	s.response = `{"ok":false,"error_code":400,"description":"Bad Request: group chat was upgraded to a supergroup chat",` +
		`"parameters":{"migrate_to_chat_id":-1001234567}}`

	_, err := s.transport.SendText(s.ctx, "-100", "hi")

	de := s.deliveryError(err)
	s.Equal(domain.ReasonMigrated, de.Reason)
	s.Equal("-1001234567", de.MigrateTo)
	s.False(de.Permanent())
}

func (s *TransportTestSuite) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *TransportTestSuite) TestSend_FloodWaitedOut() {
	s.responses = []string{`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 0","parameters":{"retry_after":0}}`}
	s.response = `{"ok":true,"result":{"message_id":11,"date":1700000000,"chat":{"id":100,"type":"private"}}}`

	receipt, err := s.transport.SendText(s.ctx, "100", "hi")

	s.Require().NoError(err)
	s.Equal(11, receipt.MessageID)
	s.Equal(2, s.callCount())
}

func (s *TransportTestSuite) TestSend_Flood() {
	s.response = `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 0","parameters":{"retry_after":0}}`

	_, err := s.transport.SendText(s.ctx, "100", "hi")

	de := s.deliveryError(err)
	s.Equal(domain.ReasonFlood, de.Reason)
	s.False(de.Permanent())
	s.Equal(3, s.callCount())
}

func (s *TransportTestSuite) TestSend_FloodWaitTooLong() {
	s.response = `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`

	_, err := s.transport.SendText(s.ctx, "100", "hi")

	s.Equal(domain.ReasonFlood, s.deliveryError(err).Reason)
	s.Equal(1, s.callCount())
}

func (s *TransportTestSuite) TestSend_OtherErrorsNotRetried() {
	s.response = `{"ok":false,"error_code":400,"description":"Bad Request: PEER_ID_INVALID"}`

	_, err := s.transport.SendText(s.ctx, "100", "hi")

	s.Error(err)
	s.Equal(1, s.callCount())
}

func (s *TransportTestSuite) TestSend_PeerInvalid() {
	s.response = `{"ok":false,"error_code":400,"description":"Bad Request: PEER_ID_INVALID"}`

	_, err := s.transport.SendText(s.ctx, "100", "hi")

	s.Equal(domain.ReasonPeerInvalid, s.deliveryError(err).Reason)
}

func (s *TransportTestSuite) TestSend_ContextCanceled() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.transport.SendText(ctx, "100", "hi")

	s.ErrorIs(err, context.Canceled)
}

func TestPhotoFile(t *testing.T) {
	if f := photoFile("https://example.com/a.jpg"); f.FileURL != "https://example.com/a.jpg" || f.FileID != "" {
		t.Errorf("photoFile(url) = %+v", f)
	}
	if f := photoFile("AgACAgIAAxk"); f.FileID != "AgACAgIAAxk" || f.FileURL != "" {
		t.Errorf("photoFile(id) = %+v", f)
	}
}
