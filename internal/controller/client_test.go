package controller

import (
	"archive/zip"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozfx/coldstart/internal/idle"
	"github.com/mozfx/coldstart/internal/proto"
	"github.com/mozfx/coldstart/internal/runner"
	"github.com/mozfx/coldstart/internal/session"
	"github.com/mozfx/coldstart/internal/workerpool"
)

type fakeArtifactProvider struct{ archive []byte }

func (p *fakeArtifactProvider) FetchBuild(ctx context.Context, taskID, dir string) (string, error) {
	path := filepath.Join(dir, taskID+".zip")
	return path, os.WriteFile(path, p.archive, 0644)
}

type fakeShutdownProvider struct{}

func (fakeShutdownProvider) InitiateRestart(reason string) error { return nil }

type immediateIdlePerf struct{}

func (immediateIdlePerf) DiskIOCounters() (idle.IOCounters, error) { return idle.IOCounters{}, nil }
func (immediateIdlePerf) CPUIdleFraction() (float64, error)        { return 1.0, nil }

func buildZipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			_, err := w.Create(name)
			require.NoError(t, err)
			continue
		}
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNewSessionEndToEnd(t *testing.T) {
	root := t.TempDir()
	store := session.New(root, "firefox")
	pool := workerpool.New(2, 4)
	defer func() {
		pool.StopAccepting()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Drain(ctx)
	}()

	buildZip := buildZipBytes(t, map[string]string{
		"firefox/":        "",
		"firefox/firefox": "binary-bytes",
	})

	deps := runner.Deps{
		Sessions:  store,
		Shutdown:  fakeShutdownProvider{},
		Artifacts: &fakeArtifactProvider{archive: buildZip},
		Perf:      immediateIdlePerf{},
		Pool:      pool,
	}

	serverRaw, clientRaw := net.Pipe()
	server := proto.NewConn(serverRaw)
	client := NewClient(proto.NewConn(clientRaw))

	done := make(chan struct {
		restart bool
		err     error
	}, 1)
	go func() {
		restart, err := runner.Handle(context.Background(), server, deps)
		done <- struct {
			restart bool
			err     error
		}{restart, err}
	}()

	sessionID, err := client.NewSession(context.Background(), "T1", "", []proto.PrefEntry{
		{Key: "a.pref", Value: proto.NewIntPref(1)},
	})
	require.NoError(t, err)
	require.Len(t, sessionID, 32)

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.restart)
}

func TestNewSessionWithProfileEndToEnd(t *testing.T) {
	root := t.TempDir()
	store := session.New(root, "firefox")
	pool := workerpool.New(2, 4)
	defer func() {
		pool.StopAccepting()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Drain(ctx)
	}()

	buildZip := buildZipBytes(t, map[string]string{
		"firefox/":        "",
		"firefox/firefox": "binary-bytes",
	})

	deps := runner.Deps{
		Sessions:  store,
		Shutdown:  fakeShutdownProvider{},
		Artifacts: &fakeArtifactProvider{archive: buildZip},
		Perf:      immediateIdlePerf{},
		Pool:      pool,
	}

	profileDir := t.TempDir()
	profilePath := filepath.Join(profileDir, "profile.zip")
	profileZip := buildZipBytes(t, map[string]string{"prefs.js": "x"})
	require.NoError(t, os.WriteFile(profilePath, profileZip, 0644))

	serverRaw, clientRaw := net.Pipe()
	server := proto.NewConn(serverRaw)
	client := NewClient(proto.NewConn(clientRaw))

	done := make(chan error, 1)
	go func() {
		_, err := runner.Handle(context.Background(), server, deps)
		done <- err
	}()

	sessionID, err := client.NewSession(context.Background(), "T2", profilePath, nil)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.FileExists(t, filepath.Join(root, sessionID, "profile", "prefs.js"))
}

func TestResumeSessionEndToEnd(t *testing.T) {
	root := t.TempDir()
	store := session.New(root, "firefox")

	info, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "profile"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(info.Path, "firefox"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "firefox", "firefox"), []byte("bin"), 0644))

	deps := runner.Deps{Sessions: store, Perf: immediateIdlePerf{}}

	serverRaw, clientRaw := net.Pipe()
	server := proto.NewConn(serverRaw)
	client := NewClient(proto.NewConn(clientRaw))

	done := make(chan error, 1)
	go func() {
		_, err := runner.Handle(context.Background(), server, deps)
		done <- err
	}()

	require.NoError(t, client.ResumeSession(info.ID, proto.IdleWait))
	require.NoError(t, <-done)
}

func TestReconnectWithBackoffExhausts(t *testing.T) {
	// A short, test-only initialDelay exercises the real wait-before-dial
	// schedule (delay before every attempt, doubling after) without
	// paying the production 30s/60s/120s/240s schedule in wall time.
	start := time.Now()
	_, err := ReconnectWithBackoff(context.Background(), "127.0.0.1:1", 3, 10*time.Millisecond)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 70*time.Millisecond) // 10 + 20 + 40ms waited
	require.Less(t, elapsed, 2*time.Second)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	require.Equal(t, 3, retryErr.Retries)
}

func TestReconnectWithBackoffCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ReconnectWithBackoff(ctx, "127.0.0.1:1", 4, time.Minute)

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	require.Equal(t, 0, retryErr.Retries)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectWithBackoffSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := ReconnectWithBackoff(context.Background(), ln.Addr().String(), 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
