package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"depweaver/internal/artifactstore"
	"depweaver/internal/metrics"
)

// Client downloads individual files from a single repository.
type Client struct {
	// HTTP is the transport for https repositories.
	HTTP *http.Client

	// Backoff controls retries of transient failures (transport errors,
	// HTTP 429 and 5xx). Steps is the total number of attempts.
	Backoff wait.Backoff

	// Logger receives debug events. If nil, logging is disabled.
	Logger *zap.Logger

	Metrics *metrics.Metrics
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Timeout time.Duration
	Retries int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewClient builds a Client with exponential backoff starting at 200ms.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTP: &http.Client{Timeout: timeout},
		Backoff: wait.Backoff{
			Duration: 200 * time.Millisecond,
			Factor:   2,
			Jitter:   0.1,
			Steps:    retries + 1,
		},
		Logger:  logger,
		Metrics: opts.Metrics,
	}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// FetchFile returns the content of relPath in repo. A missing file yields an
// error matching ErrNotFound.
func (c *Client) FetchFile(ctx context.Context, repo Repository, relPath string) ([]byte, error) {
	start := time.Now()
	data, err := c.fetchWithRetry(ctx, repo, relPath)
	result := metrics.FetchOK
	switch {
	case errors.Is(err, ErrNotFound):
		result = metrics.FetchNotFound
	case err != nil:
		result = metrics.FetchError
	}
	c.Metrics.ObserveFetch(result, time.Since(start))
	if err == nil {
		c.logger().Debug("downloaded",
			zap.String("repository", repo.URL),
			zap.String("path", relPath),
			zap.String("size", humanize.Bytes(uint64(len(data)))))
	}
	return data, err
}

func (c *Client) fetchWithRetry(ctx context.Context, repo Repository, relPath string) ([]byte, error) {
	if repo.IsLocal() {
		return readLocal(repo, relPath)
	}

	backoff := c.Backoff
	if backoff.Steps <= 0 {
		backoff.Steps = 1
	}
	var data []byte
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		b, err := c.get(ctx, repo, relPath)
		if err == nil {
			data = b
			return true, nil
		}
		lastErr = err
		var r *retryable
		if errors.As(err, &r) {
			c.logger().Debug("retrying fetch", zap.String("path", relPath), zap.Error(err))
			return false, nil
		}
		return false, err
	})
	if err == nil {
		return data, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if wait.Interrupted(err) && lastErr != nil {
		var r *retryable
		if errors.As(lastErr, &r) {
			return nil, r.err
		}
		return nil, lastErr
	}
	return nil, err
}

func (c *Client) get(ctx context.Context, repo Repository, relPath string) ([]byte, error) {
	u := repo.URL + "/" + path.Clean(relPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Repository: repo.URL, Path: relPath, Err: err}
	}
	if repo.Username != "" {
		req.SetBasicAuth(repo.Username, repo.Password)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &retryable{&FetchError{Repository: repo.URL, Path: relPath, Err: err}}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &retryable{&FetchError{Repository: repo.URL, Path: relPath, Err: err}}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &FetchError{Repository: repo.URL, Path: relPath, Status: resp.StatusCode, Err: ErrNotFound}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryable{&FetchError{Repository: repo.URL, Path: relPath, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}}
	default:
		return nil, &FetchError{Repository: repo.URL, Path: relPath, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
}

func readLocal(repo Repository, relPath string) ([]byte, error) {
	p := filepath.Join(repo.LocalDir(), filepath.FromSlash(path.Clean("/" + relPath)))
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &FetchError{Repository: repo.URL, Path: relPath, Err: ErrNotFound}
		}
		return nil, &FetchError{Repository: repo.URL, Path: relPath, Err: err}
	}
	return data, nil
}

// FetchVerified downloads relPath together with its checksum and verifies
// it. When expected is non-zero (module metadata carries inline digests) no
// checksum file is fetched.
//
// Checksum files are tried strongest first. If none can be downloaded the
// result is a ChecksumsUnavailableError; content is never accepted without
// verification.
func (c *Client) FetchVerified(ctx context.Context, repo Repository, relPath string, expected artifactstore.Checksum) ([]byte, artifactstore.Checksum, error) {
	fileName := path.Base(relPath)
	sum := expected
	if sum.IsZero() {
		var err error
		sum, err = c.fetchChecksum(ctx, repo, relPath)
		if err != nil {
			return nil, artifactstore.Checksum{}, err
		}
	}

	data, err := c.FetchFile(ctx, repo, relPath)
	if err != nil {
		return nil, artifactstore.Checksum{}, err
	}
	if !sum.Matches(data) {
		actual, _ := artifactstore.Compute(sum.Algorithm, data)
		c.Metrics.ObserveFetch(metrics.FetchChecksumMismatch, 0)
		return nil, artifactstore.Checksum{}, &ChecksumMismatchError{
			Repository: repo.URL,
			File:       fileName,
			Expected:   sum,
			Actual:     actual.Hex,
		}
	}
	return data, sum, nil
}

func (c *Client) fetchChecksum(ctx context.Context, repo Repository, relPath string) (artifactstore.Checksum, error) {
	for _, algo := range artifactstore.Algorithms {
		raw, err := c.FetchFile(ctx, repo, relPath+"."+string(algo))
		if err != nil {
			if ctx.Err() != nil {
				return artifactstore.Checksum{}, ctx.Err()
			}
			continue
		}
		sum, err := artifactstore.ParseChecksumFile(algo, raw)
		if err != nil {
			c.logger().Debug("ignoring malformed checksum file",
				zap.String("path", relPath+"."+string(algo)), zap.Error(err))
			continue
		}
		return sum, nil
	}
	return artifactstore.Checksum{}, &ChecksumsUnavailableError{Repository: repo.URL, File: path.Base(relPath)}
}
