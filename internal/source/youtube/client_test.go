package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"video_notifier/internal/domain"
)

type ClientTestSuite struct {
	suite.Suite
	ctx    context.Context
	server *httptest.Server
	hits   atomic.Int32
	handle func(w http.ResponseWriter, r *http.Request)
	client *Client
	source domain.Source
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.hits.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.handle(w, r)
	}))

	s.client = New(Config{
		BaseURL:     s.server.URL,
		APIKey:      "test-key",
		Timeout:     5 * time.Second,
		RateLimit:   1000,
		PageSize:    50,
		PageLimit:   3,
		MaxAttempts: 5,
		RetryDelay:  time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.source = domain.Source{
		ID:      domain.BuildID(domain.ServiceYouTube, "UC123"),
		Service: domain.ServiceYouTube,
		RawID:   "UC123",
		Title:   "Stored title",
	}
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func upload(videoID, publishedAt string) Activity {
	return Activity{Snippet: &Snippet{
		PublishedAt:  publishedAt,
		ChannelID:    "UC123",
		Title:        "Video " + videoID,
		ChannelTitle: "Channel",
		Type:         "upload",
		Thumbnails: map[string]Thumbnail{
			"default": {URL: "https://i.ytimg.com/vi/" + videoID + "/default.jpg", Width: 120, Height: 90},
			"high":    {URL: "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg", Width: 480, Height: 360},
			"medium":  {URL: "https://i.ytimg.com/vi/" + videoID + "/mqdefault.jpg", Width: 320, Height: 180},
		},
	}}
}

func (s *ClientTestSuite) TestService() {
	s.Equal(domain.ServiceYouTube, s.client.Service())
}

func (s *ClientTestSuite) TestFetchNewItems_Request() {
	after := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/activities", r.URL.Path)
		q := r.URL.Query()
		s.Equal("snippet", q.Get("part"))
		s.Equal("UC123", q.Get("channelId"))
		s.Equal("50", q.Get("maxResults"))
		s.Equal("2024-03-01T12:00:00Z", q.Get("publishedAfter"))
		s.Equal("test-key", q.Get("key"))
		s.Empty(q.Get("pageToken"))
		writeJSON(w, ActivitiesResponse{Items: []Activity{upload("abc", "2024-03-02T10:00:00Z")}})
	}

	items, err := s.client.FetchNewItems(s.ctx, s.source, after)

	s.Require().NoError(err)
	s.Require().Len(items, 1)
	item := items[0]
	s.Equal("youtube:abc", item.ID)
	s.Equal(s.source.ID, item.SourceID)
	s.Equal("Video abc", item.Title)
	s.Equal("https://youtu.be/abc", item.URL)
	s.Equal("Channel", item.SourceTitle)
	s.True(item.PublishedAt.Equal(time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)))
	s.Equal([]string{
		"https://i.ytimg.com/vi/abc/hqdefault.jpg",
		"https://i.ytimg.com/vi/abc/mqdefault.jpg",
		"https://i.ytimg.com/vi/abc/default.jpg",
	}, []string(item.Previews))
}

func (s *ClientTestSuite) TestFetchNewItems_Pagination() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, ActivitiesResponse{
				Items:         []Activity{upload("v1", "2024-03-02T10:00:00Z")},
				NextPageToken: "p2",
			})
		case "p2":
			writeJSON(w, ActivitiesResponse{Items: []Activity{upload("v2", "2024-03-01T10:00:00Z")}})
		default:
			s.Fail("unexpected page token")
		}
	}

	items, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("youtube:v1", items[0].ID)
	s.Equal("youtube:v2", items[1].ID)
	s.EqualValues(2, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_PageLimit() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ActivitiesResponse{
			Items:         []Activity{upload("v", "2024-03-02T10:00:00Z")},
			NextPageToken: "more",
		})
	}

	items, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.Error(err)
	s.Contains(err.Error(), "page limit")
	s.Nil(items)
	s.EqualValues(3, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_RetriesServerErrors() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		if s.hits.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ActivitiesResponse{Items: []Activity{upload("abc", "2024-03-02T10:00:00Z")}})
	}

	items, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.Require().NoError(err)
	s.Len(items, 1)
	s.EqualValues(3, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_GivesUpAfterMaxAttempts() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}

	_, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.True(errors.Is(err, domain.ErrTemporarilyUnavailable))
	s.EqualValues(5, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_ClientErrorNotRetried() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 403, "message": "quotaExceeded"}})
	}

	_, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.Error(err)
	s.False(errors.Is(err, domain.ErrTemporarilyUnavailable))
	s.Contains(err.Error(), "quotaExceeded")
	s.EqualValues(1, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_InvalidBody() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}

	_, err := s.client.FetchNewItems(s.ctx, s.source, time.Time{})

	s.True(errors.Is(err, domain.ErrDataIntegrity))
	s.EqualValues(1, s.hits.Load())
}

func (s *ClientTestSuite) TestFetchNewItems_Normalization() {
	like := upload("liked", "2024-03-02T10:00:00Z")
	like.Snippet.Type = "like"

	noDate := upload("nodate", "")

	noThumb := upload("nothumb", "2024-03-02T10:00:00Z")
	noThumb.Snippet.Thumbnails = nil

	old := upload("old", "2024-02-01T10:00:00Z")

	foreign := upload("foreign", "2024-03-02T11:00:00Z")
	foreign.Snippet.ChannelID = "UC999"

	untitled := upload("untitled", "2024-03-02T12:00:00Z")
	untitled.Snippet.ChannelTitle = ""

	s.handle = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ActivitiesResponse{Items: []Activity{
			{}, like, noDate, noThumb, old, foreign, untitled,
		}})
	}

	items, err := s.client.FetchNewItems(s.ctx, s.source, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	s.Require().NoError(err)
	s.Require().Len(items, 2)

	s.Equal("youtube:foreign", items[0].ID)
	s.Equal("youtube:UC999", items[0].SourceID)

	s.Equal("youtube:untitled", items[1].ID)
	s.Equal(s.source.ID, items[1].SourceID)
	s.Equal("Stored title", items[1].SourceTitle)
}

func (s *ClientTestSuite) TestFetchNewItems_ContextCanceled() {
	s.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.client.FetchNewItems(ctx, s.source, time.Time{})

	s.Error(err)
}

func TestVideoIDFromThumbnails(t *testing.T) {
	tests := []struct {
		name   string
		thumbs []Thumbnail
		want   string
	}{
		{"standard", []Thumbnail{{URL: "https://i.ytimg.com/vi/xyz_-1/hqdefault.jpg"}}, "xyz_-1"},
		{"second matches", []Thumbnail{{URL: "https://example.com/a.jpg"}, {URL: "https://i.ytimg.com/vi/q/default.jpg"}}, "q"},
		{"none", []Thumbnail{{URL: "https://example.com/a.jpg"}}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := videoIDFromThumbnails(tt.thumbs); got != tt.want {
				t.Errorf("videoIDFromThumbnails() = %q, want %q", got, tt.want)
			}
		})
	}
}
