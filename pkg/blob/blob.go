// Package blob implements the document text store: Crawl puts extracted
// text under a key derived from the document ID, Chunk gets it back. It speaks the same object-storage REST
// verb set Supabase Storage exposes (POST/GET/DELETE under
// "<base>/object/<bucket>/<key>"), so it works unmodified against a
// self-hosted Supabase Storage instance or any API-compatible object store.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/overdrivelabs/dtcpipe/pkg/fn"
)

// retryOpts bounds the retries of Put and Get, which retry every failure:
// network errors and any HTTP error status, 4xx included. 3 attempts, 250ms initial backoff, matches the pool's own
// retry policy scale rather than fn.DefaultRetry's second-denominated one.
var retryOpts = fn.RetryOpts{MaxAttempts: 3, InitialWait: 250 * time.Millisecond, MaxWait: 2 * time.Second, Jitter: true}

// Store is a bucket/key blob store reached over HTTP.
type Store struct {
	baseURL    string
	bucket     string
	apiKey     string
	httpClient *http.Client
}

// New creates a Store against baseURL (e.g. "https://xyz.supabase.co/storage/v1"),
// authenticating with a service-role apiKey.
func New(baseURL, bucket, apiKey string) *Store {
	return &Store{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		bucket:     bucket,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func sanitizeKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	key = path.Clean(key)
	key = strings.ReplaceAll(key, "..", "_")
	return key
}

func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, sanitizeKey(key))
}

func (s *Store) authHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("apikey", s.apiKey)
}

// Location is the opaque handle Put returns and Get consumes. It is just
// "<bucket>/<key>" — stable, so it can be persisted on the document row as
// blob_location.
type Location string

// Put uploads data under key (conventionally "<doc-id>.<ext>") and returns
// its Location. Retries on any failure, network error or HTTP status, up to
// retryOpts' attempt count — a 4xx failing three times in a row fails the
// same way a single attempt would, just slower.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (Location, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result := fn.Retry(ctx, retryOpts, func(ctx context.Context) fn.Result[Location] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), bytes.NewReader(data))
		if err != nil {
			return fn.Errf[Location]("blob: build request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		s.authHeaders(req)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fn.Errf[Location]("blob: put %s: %w", key, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fn.Err[Location](fmt.Errorf("blob: put %s: status %d", key, resp.StatusCode))
		}
		return fn.Ok(Location(s.bucket + "/" + sanitizeKey(key)))
	})
	return result.Unwrap()
}

// Get downloads the bytes at location.
func (s *Store) Get(ctx context.Context, location Location) ([]byte, error) {
	key := strings.TrimPrefix(string(location), s.bucket+"/")

	result := fn.Retry(ctx, retryOpts, func(ctx context.Context) fn.Result[[]byte] {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			return fn.Errf[[]byte]("blob: build request: %w", err)
		}
		s.authHeaders(req)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fn.Errf[[]byte]("blob: get %s: %w", location, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fn.Err[[]byte](fmt.Errorf("blob: get %s: status %d", location, resp.StatusCode))
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fn.Errf[[]byte]("blob: read %s: %w", location, err)
		}
		return fn.Ok(data)
	})
	return result.Unwrap()
}

// Delete removes the object at key. Not used by the pipeline proper (blobs
// are written once per document) but kept for operator cleanup tooling.
func (s *Store) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("blob: build request: %w", err)
	}
	s.authHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("blob: delete %s: status %d", key, resp.StatusCode)
	}
	return nil
}
