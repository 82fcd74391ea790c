package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 30 * time.Second

	// maxDocumentSize bounds a single downloaded catalog document.
	maxDocumentSize = 256 << 20
)

// Fetcher mirrors the catalog server into a local directory.
type Fetcher struct {
	// BaseURL is where the suites index and chunks are downloaded from.
	BaseURL string

	// URLPrefix is the prefix of chunk URLs in the suites index. Chunks are
	// downloaded from BaseURL with the prefix replaced, so a mirror works
	// with an unmodified index.
	URLPrefix string

	// Dir is the local catalog directory.
	Dir string

	// SuitesFile is the name of the suites index.
	SuitesFile string

	// FetchSignatures also downloads a detached ".asc" signature per file.
	FetchSignatures bool

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for failed requests
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration

	// UseExponentialBackoff enables exponential backoff for retries
	UseExponentialBackoff bool

	// Concurrency bounds parallel downloads.
	Concurrency int

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	logger *zap.Logger
}

// NewFetcher creates a fetcher downloading from baseURL into dir.
func NewFetcher(baseURL, dir string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		BaseURL:               strings.TrimSuffix(baseURL, "/"),
		URLPrefix:             DefaultURLPrefix,
		Dir:                   dir,
		SuitesFile:            DefaultSuitesFile,
		HTTPClient:            &http.Client{Timeout: DefaultTimeout},
		MaxRetries:            DefaultMaxRetries,
		RetryDelay:            DefaultRetryDelay,
		MaxRetryDelay:         DefaultMaxRetryDelay,
		UseExponentialBackoff: true,
		Concurrency:           DefaultConcurrency,
		logger:                logger,
	}
}

// SetRetry configures retry behavior
func (f *Fetcher) SetRetry(maxRetries int, retryDelay time.Duration) {
	f.MaxRetries = maxRetries
	f.RetryDelay = retryDelay
}

// FetchResult summarizes a fetch.
type FetchResult struct {
	APILevels []string
	Files     []string
	Bytes     int64
}

// Fetch downloads the suites index and the chunks for apiLevel. An
// apiLevel of 0 fetches the chunks of every level.
func (f *Fetcher) Fetch(ctx context.Context, apiLevel int) (*FetchResult, error) {
	suitesURL := f.BaseURL + "/" + f.SuitesFile
	suitesPath := filepath.Join(f.Dir, f.SuitesFile)

	data, err := f.get(ctx, suitesURL)
	if err != nil {
		return nil, err
	}

	var suites Suites
	if err := json.Unmarshal(data, &suites); err != nil {
		return nil, NewParseError(suitesURL, err)
	}

	result := &FetchResult{}
	if err := f.store(ctx, suitesURL, suitesPath, data, result); err != nil {
		return nil, err
	}

	var levels []string
	if apiLevel == 0 {
		for level := range suites {
			levels = append(levels, level)
		}
		sort.Strings(levels)
	} else {
		level := strconv.Itoa(apiLevel)
		if _, ok := suites[level]; !ok {
			return nil, NewUnsupportedError(apiLevel)
		}
		levels = []string{level}
	}
	result.APILevels = levels

	seen := make(map[string]bool)
	var urls []string
	for _, level := range levels {
		for _, u := range suites[level].URLs() {
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}

	type download struct {
		remote string
		local  string
		data   []byte
	}
	downloads := make([]download, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.Concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			local, err := localPath(f.Dir, f.URLPrefix, u)
			if err != nil {
				return err
			}
			remote := f.remoteURL(u)
			body, err := f.get(gctx, remote)
			if err != nil {
				return err
			}
			downloads[i] = download{remote: remote, local: local, data: body}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, d := range downloads {
		if err := f.store(ctx, d.remote, d.local, d.data, result); err != nil {
			return nil, err
		}
	}

	f.logger.Info("Catalog fetched",
		zap.Strings("api_levels", levels),
		zap.Int("files", len(result.Files)),
		zap.Int64("bytes", result.Bytes))

	return result, nil
}

// remoteURL rewrites a chunk URL from the index onto BaseURL.
func (f *Fetcher) remoteURL(u string) string {
	if f.URLPrefix != "" && strings.HasPrefix(u, f.URLPrefix) {
		return f.BaseURL + strings.TrimPrefix(u, f.URLPrefix)
	}
	if strings.Contains(u, "://") {
		return u
	}
	return f.BaseURL + "/" + strings.TrimLeft(u, "/")
}

// store writes data and, if enabled, its signature under the catalog dir.
func (f *Fetcher) store(ctx context.Context, remote, local string, data []byte, result *FetchResult) error {
	if err := writeFileAtomic(local, data); err != nil {
		return err
	}
	result.Files = append(result.Files, local)
	result.Bytes += int64(len(data))

	if !f.FetchSignatures {
		return nil
	}
	sig, err := f.get(ctx, remote+".asc")
	if err != nil {
		return NewSignatureError(remote+".asc", err)
	}
	return writeFileAtomic(local+".asc", sig)
}

// get performs a GET with retries and exponential backoff.
func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	var lastErr error
	currentDelay := f.RetryDelay

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(currentDelay):
			}

			if f.UseExponentialBackoff {
				currentDelay *= 2
				if currentDelay > f.MaxRetryDelay {
					currentDelay = f.MaxRetryDelay
				}
			}
			f.logger.Debug("Retrying catalog download",
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		data, err := f.getAttempt(ctx, target)
		if err == nil {
			return data, nil
		}

		lastErr = err

		// Don't retry non-retryable errors
		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (f *Fetcher) getAttempt(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Type: ErrTypeValidation, Message: "failed to create request", Path: target, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, ClassifyNetworkError(err, target)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, ClassifyNetworkError(err, target)
	}
	return body, nil
}

// writeFileAtomic writes via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: catalog files are not secret
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}
