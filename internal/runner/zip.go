package runner

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mozfx/coldstart/internal/logging"
)

var ziplog = logging.L("runner.zip")

// ZipStats summarizes an Unzip call.
type ZipStats struct {
	// Extracted is the number of files (not directories) written.
	Extracted int

	// TopLevelDir is the directory path shared by every entry in the
	// archive, or "" if the entries don't share one (e.g. a profile zip
	// with files at its root rather than nested under a single
	// directory).
	TopLevelDir string
}

// ZipError reports failure extracting a specific archive or entry.
type ZipError struct {
	Archive string
	Entry   string
	Op      string
	Err     error
}

func (e *ZipError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("runner: %s %q in archive %q: %v", e.Op, e.Entry, e.Archive, e.Err)
	}
	return fmt.Sprintf("runner: %s archive %q: %v", e.Op, e.Archive, e.Err)
}

func (e *ZipError) Unwrap() error { return e.Err }

// Unzip extracts archive into target, creating target and any
// subdirectories as entries are written, and reports extraction
// statistics. It rejects entries whose name would
// escape target (archive/zip's Reader.Open already sanitizes "..", this
// guards the path join as well).
//
// No third-party zip library appears anywhere in the dependency corpus,
// so this uses the standard library's archive/zip directly.
func Unzip(archive, target string) (ZipStats, error) {
	var stats ZipStats

	r, err := zip.OpenReader(archive)
	if err != nil {
		return stats, &ZipError{Archive: archive, Op: "open", Err: err}
	}
	defer r.Close()

	var topLevelDir string
	topLevelSet := false

	for i, f := range r.File {
		name := filepath.Clean(f.Name)
		if name == "." || strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
			return stats, &ZipError{Archive: archive, Entry: f.Name, Op: "extract", Err: fmt.Errorf("entry escapes target directory")}
		}

		// A file entry contributes the directory it sits in, so the stem
		// always names a directory; a file at the archive root has none.
		stem := name
		if !f.FileInfo().IsDir() {
			stem = filepath.Dir(name)
		}
		if i == 0 {
			topLevelDir = stem
			topLevelSet = stem != "."
		} else if topLevelSet {
			var ok bool
			topLevelDir, ok = commonStemPath(topLevelDir, stem)
			topLevelSet = ok
		}

		path := filepath.Join(target, name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return stats, &ZipError{Archive: archive, Entry: f.Name, Op: "mkdir", Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return stats, &ZipError{Archive: archive, Entry: f.Name, Op: "mkdir", Err: err}
		}

		if err := extractFile(f, path); err != nil {
			return stats, &ZipError{Archive: archive, Entry: f.Name, Op: "write", Err: err}
		}

		stats.Extracted++
	}

	if topLevelSet {
		stats.TopLevelDir = topLevelDir
	}

	ziplog.Info("archive extracted", "archive", archive, "files", stats.Extracted, "topLevelDir", stats.TopLevelDir)
	return stats, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = io.Copy(w, rc)
	return err
}

// commonStemPath returns the longest shared path-component prefix of p1
// and p2. The second return value is false if they share no component at
// all. Ported from the original's component-by-component comparison
// (Rust's Path::components), generalized here to fold across every entry
// in the archive rather than just the first two, so a stem established
// early is narrowed (never widened) by every subsequent entry, and once
// lost it stays lost.
func commonStemPath(p1, p2 string) (string, bool) {
	c1 := strings.Split(filepath.Clean(p1), string(filepath.Separator))
	c2 := strings.Split(filepath.Clean(p2), string(filepath.Separator))

	var common []string
	for i := 0; i < len(c1) && i < len(c2); i++ {
		if c1[i] == "" || c2[i] == "" || c1[i] != c2[i] {
			break
		}
		common = append(common, c1[i])
	}

	if len(common) == 0 {
		return "", false
	}
	return filepath.Join(common...), true
}
