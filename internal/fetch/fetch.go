// SPDX-License-Identifier: MPL-2.0

// Package fetch downloads Node.js runtime distribution archives, caches them
// on disk, and extracts the single runtime executable each target needs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onedr0p/gluctl/internal/matrix"
)

const (
	// DefaultMirror is the base URL of the official runtime distribution.
	DefaultMirror = "https://nodejs.org/dist"

	// DefaultTimeout bounds a single archive download.
	DefaultTimeout = 10 * time.Minute

	// maxRuntimeBytes is the upper bound on the extracted runtime size (500 MB).
	// Prevents decompression bombs from a corrupt or hostile mirror.
	maxRuntimeBytes = 500 << 20
)

var (
	// ErrUnexpectedStatus is the sentinel wrapped by HTTPStatusError.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")

	// ErrRuntimeNotInArchive indicates the archive lacks <name>/bin/node.
	ErrRuntimeNotInArchive = errors.New("runtime executable not found in archive")

	// ErrUnsupportedArchive indicates an archive extension with no known decompressor.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

type (
	// HTTPStatusError is returned when the mirror answers with anything but 200.
	HTTPStatusError struct {
		URL        string
		StatusCode int
	}

	// Fetcher retrieves runtime executables for matrix entries. The zero value
	// is not usable; construct with New.
	Fetcher struct {
		httpClient *http.Client
		timeout    time.Duration
		cacheDir   string
		mirror     string
		mirrors    map[string]string // per-target overrides keyed by matrix.Entry.Key()
		userAgent  string
		logger     *log.Logger
	}

	// Option configures a Fetcher during construction.
	Option func(*Fetcher)
)

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("downloading %s: unexpected status %d", redactURL(e.URL), e.StatusCode)
}

// Unwrap returns ErrUnexpectedStatus so callers can use errors.Is.
func (e *HTTPStatusError) Unwrap() error { return ErrUnexpectedStatus }

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy
// configurations. A timeout set with WithTimeout still applies to it.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithTimeout bounds every download by d, whichever HTTP client is in use.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithMirror overrides the default download base URL.
func WithMirror(base string) Option {
	return func(f *Fetcher) {
		if base != "" {
			f.mirror = strings.TrimRight(base, "/")
		}
	}
}

// WithTargetMirrors sets per-target base URLs keyed by "<platform>-<arch>".
// An entry's own RuntimeMirror still takes precedence.
func WithTargetMirrors(m map[string]string) Option {
	return func(f *Fetcher) {
		f.mirrors = m
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithLogger sets the logger used for cache and download progress.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New creates a Fetcher that caches archives and extracted runtimes in cacheDir.
// Defaults: mirror=DefaultMirror, an HTTP client bounded by DefaultTimeout,
// userAgent="gluctl".
func New(cacheDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		cacheDir:   cacheDir,
		mirror:     DefaultMirror,
		userAgent:  "gluctl",
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.timeout > 0 && f.httpClient.Timeout != f.timeout {
		c := *f.httpClient
		c.Timeout = f.timeout
		f.httpClient = &c
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard)
	}
	return f
}

// ArchiveName returns the distribution archive file name for e at version,
// e.g. "node-v20.11.0-linux-x64.tar.xz".
func ArchiveName(e matrix.Entry, version string) string {
	return fmt.Sprintf("node-%s-%s-%s%s", version, e.DownloadPlatform(), e.DownloadArch(), e.RuntimeArchiveExt)
}

// RuntimeEntryName returns the path of the runtime executable inside the
// archive: the archive name without its extension, followed by /bin/node.
func RuntimeEntryName(archiveName string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(archiveName, matrix.ExtTarGz), matrix.ExtTarXz)
	return base + "/bin/node"
}

// URL returns the download URL for e at version.
func (f *Fetcher) URL(e matrix.Entry, version string) string {
	base := f.mirror
	if m, ok := f.mirrors[e.Key()]; ok && m != "" {
		base = m
	}
	if e.RuntimeMirror != "" {
		base = e.RuntimeMirror
	}
	return strings.TrimRight(base, "/") + "/" + version + "/" + ArchiveName(e, version)
}

// ArchivePath returns the cache location of the distribution archive for e.
func (f *Fetcher) ArchivePath(e matrix.Entry, version string) string {
	return filepath.Join(f.cacheDir, ArchiveName(e, version))
}

// RuntimePath returns where Fetch places the extracted runtime for e.
func (f *Fetcher) RuntimePath(e matrix.Entry) string {
	return filepath.Join(f.cacheDir, "node-"+e.Key())
}

// Fetch makes sure the distribution archive for e is cached, then extracts
// the runtime executable from it and returns its path. A cached archive is
// reused without any network call; a download only becomes visible at the
// cache path once it has completed.
func (f *Fetcher) Fetch(ctx context.Context, e matrix.Entry, version string) (string, error) {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	archivePath := f.ArchivePath(e, version)
	switch _, err := os.Stat(archivePath); {
	case err == nil:
		f.logger.Debug("using cached runtime archive", "path", archivePath)
	case errors.Is(err, os.ErrNotExist):
		u := f.URL(e, version)
		f.logger.Info("downloading runtime", "url", redactURL(u))
		if err := f.download(ctx, u, archivePath); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("checking cache %s: %w", archivePath, err)
	}

	dest := f.RuntimePath(e)
	entry := RuntimeEntryName(filepath.Base(archivePath))
	if err := extractRuntime(archivePath, entry, dest); err != nil {
		return "", fmt.Errorf("extracting %s from %s: %w", entry, filepath.Base(archivePath), err)
	}

	return dest, nil
}

// download streams u into a temp file next to dest and renames it into place
// once the body has been fully written and synced. Any failure removes the
// temp file, leaving dest untouched.
func (f *Fetcher) download(ctx context.Context, u, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", redactURL(u), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only HTTP response body

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(dest), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving download into cache: %w", err)
	}
	committed = true

	return nil
}

// redactURL strips credentials, query parameters and fragments from a URL
// for safe inclusion in logs and error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
