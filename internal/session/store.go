// Package session manages the on-disk per-session directories that hold
// a downloaded browser build and its extracted profile across a worker
// reboot.
package session

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mozfx/coldstart/internal/logging"
)

var log = logging.L("session")

const (
	idLength       = 32
	createAttempts = 30
)

var idCharset = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

// Info identifies an on-disk session and its root path.
type Info struct {
	ID   string
	Path string
}

// NewSessionErrorKind classifies a failure to allocate a session.
type NewSessionErrorKind int

const (
	NewSessionIo NewSessionErrorKind = iota
	NewSessionTooManyAttempts
)

// NewSessionError is returned by Store.Create.
type NewSessionError struct {
	Kind NewSessionErrorKind
	Err  error
}

func (e *NewSessionError) Error() string {
	switch e.Kind {
	case NewSessionTooManyAttempts:
		return fmt.Sprintf("could not allocate a session directory after %d attempts", createAttempts)
	default:
		return fmt.Sprintf("session create: %v", e.Err)
	}
}

func (e *NewSessionError) Unwrap() error { return e.Err }

// ResumeErrorKind classifies why a resume-session request was rejected.
type ResumeErrorKind int

const (
	ResumeInvalidId ResumeErrorKind = iota
	ResumeDoesNotExist
	ResumeMissingProfile
	ResumeMissingBrowser
)

func (k ResumeErrorKind) String() string {
	switch k {
	case ResumeInvalidId:
		return "InvalidId"
	case ResumeDoesNotExist:
		return "DoesNotExist"
	case ResumeMissingProfile:
		return "MissingProfile"
	case ResumeMissingBrowser:
		return "MissingBrowser"
	default:
		return "Unknown"
	}
}

// ResumeError is returned by Store.Resume.
type ResumeError struct {
	Kind ResumeErrorKind
	ID   string
}

func (e *ResumeError) Error() string {
	switch e.Kind {
	case ResumeInvalidId:
		return fmt.Sprintf("Invalid session ID '%s': ID contains invalid characters", e.ID)
	case ResumeDoesNotExist:
		return fmt.Sprintf("session %q does not exist", e.ID)
	case ResumeMissingProfile:
		return fmt.Sprintf("session %q is missing its profile directory", e.ID)
	case ResumeMissingBrowser:
		return fmt.Sprintf("session %q is missing its browser binary", e.ID)
	default:
		return fmt.Sprintf("session %q: resume failed", e.ID)
	}
}

// Store manages per-session directories under Root. BrowserBinary is the
// filename (not path) expected at <session>/firefox/<BrowserBinary>.
type Store struct {
	Root          string
	BrowserBinary string
}

// New returns a Store rooted at root, validating sessions against the
// given browser binary name (e.g. "firefox" or "firefox.exe").
func New(root, browserBinary string) *Store {
	return &Store{Root: root, BrowserBinary: browserBinary}
}

// Create allocates a new session directory with a random 32-character
// alphanumeric ID, retrying on collision up to createAttempts times. The
// returned Info's Path always exists on success.
func (s *Store) Create() (Info, error) {
	var lastErr error

	for attempt := 0; attempt < createAttempts; attempt++ {
		id, err := generateID()
		if err != nil {
			return Info{}, &NewSessionError{Kind: NewSessionIo, Err: err}
		}

		path := filepath.Join(s.Root, id)
		if err := os.Mkdir(path, 0755); err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			return Info{}, &NewSessionError{Kind: NewSessionIo, Err: err}
		}

		return Info{ID: id, Path: path}, nil
	}

	return Info{}, &NewSessionError{Kind: NewSessionTooManyAttempts, Err: lastErr}
}

// Resume validates an existing session directory by id, requiring a
// profile/ subdirectory and a firefox/<BrowserBinary> file. On any
// validation failure it destroys whatever directory exists before
// returning the typed error.
func (s *Store) Resume(id string) (Info, error) {
	if !idPattern.MatchString(id) {
		return Info{}, &ResumeError{Kind: ResumeInvalidId, ID: id}
	}

	path := filepath.Join(s.Root, id)
	info := Info{ID: id, Path: path}

	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return Info{}, &ResumeError{Kind: ResumeDoesNotExist, ID: id}
	}

	profileDir := filepath.Join(path, "profile")
	if stat, err := os.Stat(profileDir); err != nil || !stat.IsDir() {
		s.destroy(info)
		return Info{}, &ResumeError{Kind: ResumeMissingProfile, ID: id}
	}

	browserPath := filepath.Join(path, "firefox", s.BrowserBinary)
	if stat, err := os.Stat(browserPath); err != nil || stat.IsDir() {
		s.destroy(info)
		return Info{}, &ResumeError{Kind: ResumeMissingBrowser, ID: id}
	}

	return info, nil
}

// EnsureEmptyProfile creates <info.Path>/profile, which must not already
// exist, and returns its path.
func (s *Store) EnsureEmptyProfile(info Info) (string, error) {
	path := filepath.Join(info.Path, "profile")
	if err := os.Mkdir(path, 0755); err != nil {
		return "", fmt.Errorf("session: create profile dir: %w", err)
	}
	return path, nil
}

// Cleanup recursively removes a session's directory. Used both by the
// scope-guard on unwind and by SweepStale at startup.
func (s *Store) Cleanup(info Info) error {
	return s.destroy(info)
}

// SweepStale removes every per-session directory currently under Root.
// Called at worker startup (the session-root invariant requires zero
// sessions at start) and, as a safety net, after a successful resume.
func (s *Store) SweepStale() error {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session: read root %s: %w", s.Root, err)
	}

	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.Root, entry.Name())
		if err := os.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("session: sweep %s: %w", path, err)
		} else if err == nil {
			log.Info("swept stale session directory", "path", path)
		}
	}
	return firstErr
}

func (s *Store) destroy(info Info) error {
	if info.Path == "" {
		return nil
	}
	if err := os.RemoveAll(info.Path); err != nil {
		log.Warn("failed to destroy session directory", "path", info.Path, "error", err)
		return err
	}
	return nil
}

func generateID() (string, error) {
	raw := make([]byte, idLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}

	id := make([]byte, idLength)
	for i, b := range raw {
		id[i] = idCharset[int(b)%len(idCharset)]
	}
	return string(id), nil
}
