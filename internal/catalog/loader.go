package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/patchscan/internal/urls"
)

const (
	// DefaultURLPrefix is the host prefix of chunk URLs in the suites file.
	DefaultURLPrefix = urls.CatalogAPI

	// DefaultSuitesFile is the suites index inside the catalog directory.
	DefaultSuitesFile = "allTestSuites.json"

	// DefaultConcurrency bounds parallel chunk reads.
	DefaultConcurrency = 4
)

// Loader reads a catalog from a local directory mirroring the catalog server.
type Loader struct {
	dir         string
	suitesFile  string
	urlPrefix   string
	verifier    *Verifier
	concurrency int
	logger      *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSuitesFile overrides the suites index path. Relative paths are
// resolved against the catalog directory.
func WithSuitesFile(path string) LoaderOption {
	return func(l *Loader) {
		if path != "" {
			l.suitesFile = path
		}
	}
}

// WithURLPrefix overrides DefaultURLPrefix.
func WithURLPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		if prefix != "" {
			l.urlPrefix = strings.TrimSuffix(prefix, "/")
		}
	}
}

// WithVerifier requires every file read to carry a valid detached signature.
func WithVerifier(v *Verifier) LoaderOption {
	return func(l *Loader) {
		l.verifier = v
	}
}

// WithConcurrency sets how many chunks are read in parallel.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// NewLoader creates a loader for the catalog in dir.
func NewLoader(dir string, logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		dir:         dir,
		suitesFile:  DefaultSuitesFile,
		urlPrefix:   DefaultURLPrefix,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the catalog directory.
func (l *Loader) Dir() string {
	return l.dir
}

// SuitesPath returns the resolved suites index path.
func (l *Loader) SuitesPath() string {
	if filepath.IsAbs(l.suitesFile) {
		return l.suitesFile
	}
	return filepath.Join(l.dir, l.suitesFile)
}

// Suites reads the suites index.
func (l *Loader) Suites() (Suites, error) {
	path := l.SuitesPath()
	data, err := l.readFile(path)
	if err != nil {
		return nil, err
	}

	var suites Suites
	if err := json.Unmarshal(data, &suites); err != nil {
		return nil, NewParseError(path, err)
	}
	return suites, nil
}

// Suite returns the suite for one API level.
func (l *Loader) Suite(apiLevel int) (Suite, error) {
	suites, err := l.Suites()
	if err != nil {
		return Suite{}, err
	}
	suite, ok := suites[strconv.Itoa(apiLevel)]
	if !ok {
		return Suite{}, NewUnsupportedError(apiLevel)
	}
	return suite, nil
}

// LocalPath maps a chunk URL to a file under the catalog directory by
// replacing the URL prefix with the directory. Plain relative paths are
// taken as relative to the directory. The result never leaves the
// directory.
func (l *Loader) LocalPath(rawURL string) (string, error) {
	return localPath(l.dir, l.urlPrefix, rawURL)
}

func localPath(dir, prefix, rawURL string) (string, error) {
	rel := rawURL
	switch {
	case strings.HasPrefix(rawURL, prefix):
		rel = strings.TrimPrefix(rawURL, prefix)
	default:
		if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
			return "", NewValidationError(fmt.Sprintf("chunk URL %q does not start with %q", rawURL, prefix))
		}
	}

	rel = filepath.Clean("/" + strings.TrimLeft(rel, "/"))
	if rel == "/" {
		return "", NewValidationError(fmt.Sprintf("chunk URL %q has no path", rawURL))
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// Load reads every chunk of the suite for apiLevel into a new catalog.
func (l *Loader) Load(ctx context.Context, apiLevel int) (*Catalog, error) {
	suite, err := l.Suite(apiLevel)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(suite.URLs()))
	for _, u := range suite.URLs() {
		p, err := l.LocalPath(u)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	l.logger.Debug("Loading test suite",
		zap.Int("api_level", apiLevel),
		zap.Int("basic_chunks", len(suite.BasicTestURLs)),
		zap.Int("vulnerability_chunks", len(suite.VulnerabilitiesURLs)))

	return l.LoadFiles(ctx, paths)
}

// LoadFiles reads the given chunk files in parallel and merges them in
// argument order, so later files win on duplicate ids.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (*Catalog, error) {
	chunks := make([]*Chunk, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := l.readChunk(path)
			if err != nil {
				return err
			}
			chunks[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := New()
	for _, chunk := range chunks {
		c.Merge(chunk)
	}

	l.logger.Info("Catalog loaded",
		zap.Int("chunks", len(paths)),
		zap.Int("basic_tests", c.TestCount()),
		zap.Int("vulnerabilities", c.VulnerabilityCount()))

	return c, nil
}

func (l *Loader) readChunk(path string) (*Chunk, error) {
	data, err := l.readFile(path)
	if err != nil {
		return nil, err
	}
	var chunk Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, NewParseError(path, err)
	}
	return &chunk, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	//nolint:gosec // G304: paths are confined to the catalog directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewNotFoundError(path, err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if l.verifier != nil {
		if err := l.verifier.VerifyData(path, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// ReadChunk parses a single chunk file without verification.
func ReadChunk(path string) (*Chunk, error) {
	return NewLoader(filepath.Dir(path), nil).readChunk(path)
}
