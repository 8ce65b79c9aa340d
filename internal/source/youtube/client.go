package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"

	"video_notifier/internal/domain"
	"video_notifier/internal/retry"
	"video_notifier/internal/throttle"
)

const activityUpload = "upload"

var videoIDRe = regexp.MustCompile(`vi/([^/]+)`)

type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RateLimit   int
	PageSize    int
	PageLimit   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client polls channel upload activity from the YouTube Data API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	pageLimit  int
	limiter    *throttle.RateLimiter
	retry      retry.Policy
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageSize:  cfg.PageSize,
		pageLimit: cfg.PageLimit,
		limiter:   throttle.NewRateLimiter(cfg.RateLimit),
		logger:    logger.With("source", domain.ServiceYouTube),
	}
	c.retry = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       retry.Constant(cfg.RetryDelay),
		Retryable: func(err error) bool {
			return errors.Is(err, domain.ErrTemporarilyUnavailable)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	return c
}

func (c *Client) Service() string {
	return domain.ServiceYouTube
}

// FetchNewItems returns the uploads of src published after publishedAfter, following
// page tokens up to the page limit.
func (c *Client) FetchNewItems(ctx context.Context, src domain.Source, publishedAfter time.Time) ([]domain.Item, error) {
	var items []domain.Item
	pageToken := ""

	for page := 1; ; page++ {
		var resp *ActivitiesResponse
		err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
			var err error
			resp, err = c.fetchPage(ctx, src.RawID, publishedAfter, pageToken)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d of %s: %w", page, src.ID, err)
		}

		items = append(items, c.transform(src, resp.Items, publishedAfter)...)

		c.logger.Debug("fetched page",
			"source_id", src.ID,
			"page", page,
			"activities", len(resp.Items),
			"total", len(items),
		)

		if resp.NextPageToken == "" {
			return items, nil
		}
		if page >= c.pageLimit {
			return nil, fmt.Errorf("fetch %s: page limit %d reached", src.ID, c.pageLimit)
		}
		pageToken = resp.NextPageToken
	}
}

func (c *Client) fetchPage(ctx context.Context, channelID string, publishedAfter time.Time, pageToken string) (*ActivitiesResponse, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("channelId", channelID)
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	q.Set("fields", "items/snippet,nextPageToken")
	q.Set("publishedAfter", publishedAfter.UTC().Format(time.RFC3339))
	q.Set("key", c.apiKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var resp *ActivitiesResponse
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.doRequest(ctx, c.baseURL+"/activities?"+q.Encode())
		return err
	})
	return resp, err
}

func (c *Client) doRequest(ctx context.Context, rawURL string) (*ActivitiesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "VideoNotifier/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("execute request: %w: %w", domain.ErrTemporarilyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var apiResp ActivitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w: %w", domain.ErrDataIntegrity, err)
	}

	return &apiResp, nil
}

func statusError(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("unexpected status %d (%s): %w", resp.StatusCode, msg, domain.ErrTemporarilyUnavailable)
	}
	return fmt.Errorf("unexpected status %d (%s)", resp.StatusCode, msg)
}

// transform keeps upload activities and turns them into items. Activities without
// a publish time or a recognizable video id are dropped.
func (c *Client) transform(src domain.Source, activities []Activity, publishedAfter time.Time) []domain.Item {
	items := make([]domain.Item, 0, len(activities))

	for _, a := range activities {
		s := a.Snippet
		if s == nil || s.Type != activityUpload {
			continue
		}

		publishedAt, err := time.Parse(time.RFC3339, s.PublishedAt)
		if err != nil {
			c.logger.Warn("failed to parse date",
				"source_id", src.ID,
				"date", s.PublishedAt,
			)
			continue
		}
		if publishedAt.Before(publishedAfter) {
			continue
		}

		thumbs := sortedThumbnails(s.Thumbnails)
		videoID := videoIDFromThumbnails(thumbs)
		if videoID == "" {
			c.logger.Debug("video id not found", "source_id", src.ID, "title", s.Title)
			continue
		}

		sourceID := src.ID
		if s.ChannelID != "" && s.ChannelID != src.RawID {
			sourceID = domain.BuildID(domain.ServiceYouTube, s.ChannelID)
		}
		sourceTitle := s.ChannelTitle
		if sourceTitle == "" {
			sourceTitle = src.Title
		}

		previews := make(pq.StringArray, 0, len(thumbs))
		for _, t := range thumbs {
			previews = append(previews, t.URL)
		}

		items = append(items, domain.Item{
			ID:          domain.BuildID(domain.ServiceYouTube, videoID),
			SourceID:    sourceID,
			PublishedAt: publishedAt,
			Title:       s.Title,
			URL:         "https://youtu.be/" + videoID,
			SourceTitle: sourceTitle,
			Previews:    previews,
		})
	}

	return items
}

// sortedThumbnails orders thumbnails widest first.
func sortedThumbnails(thumbnails map[string]Thumbnail) []Thumbnail {
	thumbs := make([]Thumbnail, 0, len(thumbnails))
	for _, t := range thumbnails {
		if t.URL != "" {
			thumbs = append(thumbs, t)
		}
	}
	sort.Slice(thumbs, func(i, j int) bool {
		if thumbs[i].Width != thumbs[j].Width {
			return thumbs[i].Width > thumbs[j].Width
		}
		return thumbs[i].URL < thumbs[j].URL
	})
	return thumbs
}

func videoIDFromThumbnails(thumbs []Thumbnail) string {
	for _, t := range thumbs {
		if m := videoIDRe.FindStringSubmatch(t.URL); m != nil {
			return m[1]
		}
	}
	return ""
}
