package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), "firefox")
}

func TestCreateReturnsValidID(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)
	require.Len(t, info.ID, idLength)
	require.Regexp(t, idPattern, info.ID)
	require.DirExists(t, info.Path)
}

func TestCreateIsUnique(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Create()
	require.NoError(t, err)

	second, err := store.Create()
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
}

func TestResumeValidSession(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "profile"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "firefox"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "firefox", "firefox"), []byte("bin"), 0755))

	resumed, err := store.Resume(info.ID)
	require.NoError(t, err)
	require.Equal(t, info.Path, resumed.Path)
}

func TestResumeInvalidIDLength(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{
		"short",
		"thisidiswaytoolongtobethirtytwocharslong",
	} {
		_, err := store.Resume(id)
		require.Error(t, err)
		var resumeErr *ResumeError
		require.ErrorAs(t, err, &resumeErr)
		require.Equal(t, ResumeInvalidId, resumeErr.Kind)
	}
}

func TestResumeInvalidIDCharacters(t *testing.T) {
	store := newTestStore(t)

	id := "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"
	require.Len(t, id, 32)

	_, err := store.Resume(id)
	require.Error(t, err)
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	require.Equal(t, ResumeInvalidId, resumeErr.Kind)
}

func TestResumeMissingProfile(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "firefox"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "firefox", "firefox"), []byte("bin"), 0755))

	_, err = store.Resume(info.ID)
	require.Error(t, err)
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	require.Equal(t, ResumeMissingProfile, resumeErr.Kind)
	require.NoDirExists(t, info.Path)
}

func TestResumeMissingBrowser(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "profile"), 0755))

	_, err = store.Resume(info.ID)
	require.Error(t, err)
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	require.Equal(t, ResumeMissingBrowser, resumeErr.Kind)
	require.NoDirExists(t, info.Path)
}

func TestResumeDoesNotExist(t *testing.T) {
	store := newTestStore(t)

	id := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	_, err := store.Resume(id)
	require.Error(t, err)
	var resumeErr *ResumeError
	require.ErrorAs(t, err, &resumeErr)
	require.Equal(t, ResumeDoesNotExist, resumeErr.Kind)
}

func TestEnsureEmptyProfile(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)

	path, err := store.EnsureEmptyProfile(info)
	require.NoError(t, err)
	require.DirExists(t, path)

	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCleanupRemovesDirectory(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, store.Cleanup(info))
	require.NoDirExists(t, info.Path)
}

func TestSweepStaleRemovesAllSessions(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create()
	require.NoError(t, err)
	_, err = store.Create()
	require.NoError(t, err)

	require.NoError(t, store.SweepStale())

	entries, err := os.ReadDir(store.Root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGuardDestroysUnlessDisarmed(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Create()
	require.NoError(t, err)

	func() {
		guard := NewGuard(store, info)
		defer guard.Run()
	}()
	require.NoDirExists(t, info.Path)

	info2, err := store.Create()
	require.NoError(t, err)

	func() {
		guard := NewGuard(store, info2)
		defer guard.Run()
		guard.Disarm()
	}()
	require.DirExists(t, info2.Path)
}
