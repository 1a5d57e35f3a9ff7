package mesh

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for snapshot fetches.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of attempts per frame.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 200 * time.Millisecond

	// maxResponseBytes limits a snapshot to 32 MB to prevent OOM.
	maxResponseBytes = 32 << 20
)

// FetchOption configures snapshot fetching.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts per frame.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchFrame downloads and decodes one camera snapshot, retrying transient
// failures with exponential backoff. Undecodable bodies are not retried.
//
// snapshotURL is a full URL, e.g. "http://camera.local/snapshot.jpg".
func FetchFrame(ctx context.Context, snapshotURL string, opts ...FetchOption) (image.Image, error) {
	if snapshotURL == "" {
		return nil, fmt.Errorf("fetch frame: snapshot URL is empty")
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	attempts := max(cfg.maxRetries, 1)
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch frame: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, snapshotURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch frame: %w", ctx.Err())
			}
			lastErr = err
			continue
		}
		return DecodeFrame(body)
	}

	return nil, fmt.Errorf("%w: all %d snapshot attempts failed: %v", ErrAcquisitionGap, attempts, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}

// HTTPFrameSource grabs frames from a camera's still-snapshot endpoint.
// Limit bounds the number of frames served; 0 means unbounded.
type HTTPFrameSource struct {
	url   string
	limit int
	opts  []FetchOption

	mu     sync.Mutex
	served int
	width  int
	height int
}

// NewHTTPFrameSource creates a snapshot source
func NewHTTPFrameSource(snapshotURL string, limit int, opts ...FetchOption) *HTTPFrameSource {
	return &HTTPFrameSource{url: snapshotURL, limit: limit, opts: opts}
}

// Size returns the size of the first frame fetched, or zero before that
func (s *HTTPFrameSource) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Next fetches one snapshot
func (s *HTTPFrameSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.limit > 0 && s.served >= s.limit {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.served++
	s.mu.Unlock()

	img, err := FetchFrame(ctx, s.url, s.opts...)
	if err != nil {
		if errors.Is(err, ErrAcquisitionGap) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionGap, err)
	}

	s.mu.Lock()
	if s.width == 0 {
		b := img.Bounds()
		s.width, s.height = b.Dx(), b.Dy()
	}
	s.mu.Unlock()
	return img, nil
}
