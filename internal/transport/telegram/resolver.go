package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"video_notifier/internal/domain"
	"video_notifier/internal/retry"
)

var errNoPreview = errors.New("no reachable preview")

type ResolverConfig struct {
	// CacheChatID receives one upload per image. When empty the probed url is the handle.
	CacheChatID    string
	ProbeAttempts  int
	ProbeDelay     time.Duration
	ProbeTimeout   time.Duration
	UploadAttempts int
	UploadDelay    time.Duration
}

type photoSender interface {
	SendImage(ctx context.Context, targetID, imageHandle, caption string) (*domain.Receipt, error)
}

// ImageResolver finds a reachable preview and turns it into a reusable handle.
type ImageResolver struct {
	sender      photoSender
	httpClient  *http.Client
	cacheChatID string
	probe       retry.Policy
	upload      retry.Policy
	logger      *slog.Logger
}

func NewImageResolver(sender photoSender, cfg ResolverConfig, logger *slog.Logger) *ImageResolver {
	logger = logger.With("component", "image_resolver")
	return &ImageResolver{
		sender: sender,
		httpClient: &http.Client{
			Timeout: cfg.ProbeTimeout,
		},
		cacheChatID: cfg.CacheChatID,
		probe: retry.Policy{
			MaxAttempts: cfg.ProbeAttempts,
			Delay:       retry.Constant(cfg.ProbeDelay),
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Debug("previews unreachable, retrying", "attempt", attempt, "delay", delay)
			},
		},
		upload: retry.Policy{
			MaxAttempts: cfg.UploadAttempts,
			Delay:       retry.Constant(cfg.UploadDelay),
			Retryable: func(err error) bool {
				var de *domain.DeliveryError
				return errors.As(err, &de) && de.Reason == domain.ReasonBadContent
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Debug("upload rejected, retrying", "attempt", attempt, "delay", delay, "error", err)
			},
		},
		logger: logger,
	}
}

// Resolve probes urls in order and returns a handle for the first reachable one.
func (r *ImageResolver) Resolve(ctx context.Context, urls []string) (string, error) {
	if len(urls) == 0 {
		return "", errNoPreview
	}

	var photoURL string
	err := retry.Do(ctx, r.probe, func(ctx context.Context) error {
		var err error
		photoURL, err = r.firstReachable(ctx, urls)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("probe previews: %w", err)
	}

	if r.cacheChatID == "" {
		return photoURL, nil
	}

	var fileID string
	err = retry.Do(ctx, r.upload, func(ctx context.Context) error {
		receipt, err := r.sender.SendImage(ctx, r.cacheChatID, photoURL, "")
		if err != nil {
			return err
		}
		if receipt == nil || receipt.ImageID == "" {
			return fmt.Errorf("upload %s: no file id returned", photoURL)
		}
		fileID = receipt.ImageID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload preview: %w", err)
	}

	r.logger.Debug("preview uploaded", "url", photoURL, "file_id", fileID)
	return fileID, nil
}

func (r *ImageResolver) firstReachable(ctx context.Context, urls []string) (string, error) {
	var lastErr error
	for _, u := range urls {
		final, err := r.head(ctx, u)
		if err == nil {
			return final, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %w", errNoPreview, lastErr)
}

// head returns the url after redirects when it answers 200.
func (r *ImageResolver) head(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("head %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("head %s: unexpected status %d", u, resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}
