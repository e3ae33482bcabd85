// Package store manages locally installed tagger models: install
// status derived from disk state, resumable multi-file downloads, and
// deletion.
package store

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/logging"
)

// Status is the derived install state of a model. It is never stored;
// it is computed from the filesystem relative to the model's manifest.
type Status string

const (
	StatusNotInstalled Status = "not-installed"
	StatusDownloading  Status = "downloading"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Progress is one record of the download progress stream.
type Progress struct {
	Status          Status `json:"status"`
	Model           string `json:"model"`
	File            string `json:"file,omitempty"`
	BytesDownloaded int64  `json:"bytesDownloaded"`
	TotalBytes      int64  `json:"totalBytes"`
	Message         string `json:"message,omitempty"`
}

// DownloadError reports the manifest file whose transfer failed. A
// single file failure aborts the whole download.
type DownloadError struct {
	File  string
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.File, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// defaultEndpoint is the host models are fetched from.
const defaultEndpoint = "https://huggingface.co"

// LocalStore maps model descriptors to directories under a root path.
type LocalStore struct {
	rootPath string
	endpoint string
	client   *http.Client
	log      logging.Logger
}

// Option configures a LocalStore.
type Option func(*LocalStore)

// WithHTTPClient sets the client used for file downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *LocalStore) { s.client = c }
}

// WithLogger sets the store's logger.
func WithLogger(log logging.Logger) Option {
	return func(s *LocalStore) { s.log = log }
}

// WithEndpoint overrides the download host. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(s *LocalStore) { s.endpoint = endpoint }
}

// NewLocalStore creates a store rooted at rootPath. The directory is
// created lazily on first download.
func NewLocalStore(rootPath string, opts ...Option) *LocalStore {
	s := &LocalStore{
		rootPath: rootPath,
		endpoint: defaultEndpoint,
		client:   http.DefaultClient,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fileURL returns the remote URL for one manifest file.
func (s *LocalStore) fileURL(m catalog.Model, name string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", s.endpoint, m.Repo, name)
}

// RootPath returns the store's root directory.
func (s *LocalStore) RootPath() string { return s.rootPath }

// ModelDir returns the directory holding a model's files.
func (s *LocalStore) ModelDir(m catalog.Model) string {
	return filepath.Join(s.rootPath, m.Provider, m.ID)
}

// FilePath returns the on-disk path of one manifest file.
func (s *LocalStore) FilePath(m catalog.Model, name string) string {
	return filepath.Join(s.ModelDir(m), name)
}

// Status reports whether a model is installed. Ready requires every
// manifest file to exist; declared sizes are intentionally not checked
// here, they only guide resume decisions during download. No network
// access is performed.
func (s *LocalStore) Status(m catalog.Model) Status {
	for _, f := range m.Files {
		if _, err := os.Stat(s.FilePath(m, f.Name)); err != nil {
			return StatusNotInstalled
		}
	}
	return StatusReady
}

// Delete removes a model's directory. Deleting a model that is not
// installed is not an error.
func (s *LocalStore) Delete(m catalog.Model) error {
	if err := os.RemoveAll(s.ModelDir(m)); err != nil {
		return fmt.Errorf("remove model directory: %w", err)
	}
	return nil
}

// createFile is a wrapper around os.Create that creates any parent
// directories as needed.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("create parent directory %q: %w", filepath.Dir(path), err)
	}
	return os.Create(path)
}

// incompletePath returns the temp path used while a file downloads.
func incompletePath(path string) string {
	return path + ".incomplete"
}
