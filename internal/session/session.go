// Package session holds the per-user conversion context: the loaded video,
// its temp files and the estimate and suggestion caches.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amillerrr/gif-pipeline/internal/sizing"
	"github.com/amillerrr/gif-pipeline/internal/suggest"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// MaxFilenameLength bounds uploaded file names.
const MaxFilenameLength = 255

// Session is one user's conversion context. It is safe for concurrent use.
type Session struct {
	ID          string
	Estimates   *sizing.Cache
	Suggestions *suggest.Cache

	mu         sync.Mutex
	dir        string
	videoPath  string
	props      *models.VideoProperties
	generation int
	lastUsed   time.Time
}

// New creates a session with its own temp directory under root.
func New(root string) (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	return &Session{
		ID:          id,
		Estimates:   sizing.NewCache(),
		Suggestions: suggest.NewCache(),
		dir:         dir,
		lastUsed:    time.Now(),
	}, nil
}

// Dir is the session's temp directory.
func (s *Session) Dir() string {
	return s.dir
}

// SaveVideo stores an upload in the temp directory and makes it the
// session's source. Any previous video and cached state are discarded.
func (s *Session) SaveVideo(filename string, r io.Reader) (string, error) {
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	if err := s.Reset(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}

	s.mu.Lock()
	s.videoPath = path
	s.lastUsed = time.Now()
	s.mu.Unlock()
	return path, nil
}

// SetVideo records the probed properties of path.
func (s *Session) SetVideo(path string, props models.VideoProperties) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoPath = path
	s.props = &props
	s.lastUsed = time.Now()
}

// Video returns the loaded source, or ErrNoVideo.
func (s *Session) Video() (string, models.VideoProperties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props == nil || s.videoPath == "" {
		return "", models.VideoProperties{}, models.ErrNoVideo
	}
	return s.videoPath, *s.props, nil
}

// Generation increases on every Reset so callers can detect stale state.
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// LastUsed returns the last time the session was touched.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Reset clears both caches, deletes temp files and forgets the video.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Estimates.Reset()
	s.Suggestions.Reset()
	s.videoPath = ""
	s.props = nil
	s.generation++
	s.lastUsed = time.Now()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read session dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close removes the session directory.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Estimates.Reset()
	s.Suggestions.Reset()
	s.videoPath = ""
	s.props = nil
	return os.RemoveAll(s.dir)
}

func sanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: empty filename", models.ErrInvalidFileType)
	}
	if len(name) > MaxFilenameLength {
		return "", models.ErrFilenameTooLong
	}
	if !AllowedExtension(name) {
		return "", fmt.Errorf("%w: %s", models.ErrInvalidFileType, filepath.Ext(name))
	}
	return name, nil
}

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// AllowedExtension reports whether name has a supported video extension.
func AllowedExtension(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}
