// Package crawl implements the Crawl stage: fetch a crawl request's URL,
// detect its MIME type, extract plain text, dedup by content hash, store
// the text and a document row, discover same-host outbound links, and
// advance to the Chunk stage.
package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/overdrivelabs/dtcpipe/engine/domain"
	"github.com/overdrivelabs/dtcpipe/pkg/resilience"
)

// fetchResult is the raw bytes and detected MIME of one successful fetch.
type fetchResult struct {
	Body     []byte
	MIME     string
	FinalURL string
}

// Fetcher retrieves a URL's bytes with status-based retry classification:
// 4xx retried once, 5xx retried up to 3 times with backoff. A circuit
// breaker guards the connection-level call itself (host unreachable, DNS
// failure, connection reset) separately from the status-code retry loop
// above, so a host that's completely down trips open instead of every
// crawl job against it paying the full retry/backoff cost.
type Fetcher struct {
	Client  *http.Client
	Breaker *resilience.Breaker
}

// NewFetcher builds a Fetcher with a default HTTP timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		Client:  &http.Client{Timeout: timeout},
		Breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (fetchResult, error) {
	const max5xxRetries = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	attempted4xx := false

	for attempt := 0; attempt <= max5xxRetries; attempt++ {
		result, status, err := f.fetchOnce(ctx, url)
		if err != nil {
			return fetchResult{}, domain.Transient(fmt.Errorf("crawl: fetch %s: %w", url, err))
		}

		switch {
		case status >= 200 && status < 300:
			return result, nil
		case status >= 400 && status < 500:
			if attempted4xx {
				return fetchResult{}, domain.Permanent(fmt.Errorf("crawl: fetch %s: status %d", url, status))
			}
			attempted4xx = true
			lastErr = fmt.Errorf("status %d", status)
			continue
		case status >= 500:
			lastErr = fmt.Errorf("status %d", status)
			if attempt < max5xxRetries {
				select {
				case <-ctx.Done():
					return fetchResult{}, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return fetchResult{}, domain.Transient(fmt.Errorf("crawl: fetch %s: %w", url, lastErr))
		default:
			return fetchResult{}, domain.Permanent(fmt.Errorf("crawl: fetch %s: unexpected status %d", url, status))
		}
	}
	return fetchResult{}, domain.Transient(fmt.Errorf("crawl: fetch %s: %w", url, lastErr))
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (fetchResult, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{}, 0, err
	}
	req.Header.Set("User-Agent", "dtcpipe-crawler/1.0")

	var resp *http.Response
	if err := f.Breaker.Call(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = f.Client.Do(req)
		return doErr
	}); err != nil {
		return fetchResult{}, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20)) // 20MB cap
	if err != nil {
		return fetchResult{}, resp.StatusCode, err
	}

	mime := mimetype.Detect(body).String()
	return fetchResult{Body: body, MIME: mime, FinalURL: resp.Request.URL.String()}, resp.StatusCode, nil
}
