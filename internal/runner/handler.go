package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mozfx/coldstart/internal/artifact"
	"github.com/mozfx/coldstart/internal/idle"
	"github.com/mozfx/coldstart/internal/logging"
	"github.com/mozfx/coldstart/internal/proto"
	"github.com/mozfx/coldstart/internal/session"
	"github.com/mozfx/coldstart/internal/workerpool"
)

var log = logging.L("runner")

// ErrMissingBrowser is returned when an extracted build lacks the
// configured browser binary.
var ErrMissingBrowser = errors.New("runner: no browser binary in build artifact")

// ErrEmptyProfile is returned when a received profile archive contained
// no files.
var ErrEmptyProfile = errors.New("runner: empty profile")

var updatePolicyJSON = []byte(`{
    "policies": {
        "DisableAppUpdate": true
    }
}
`)

// Deps bundles the collaborators the worker state machine needs for one
// connection. A fresh Deps is typically shared across every connection a
// worker accepts (Sessions, Shutdown, Artifacts, Perf, and Pool all
// outlive any one session).
type Deps struct {
	Sessions  *session.Store
	Shutdown  ShutdownProvider
	Artifacts artifact.Provider
	Perf      idle.PerfProvider
	Pool      *workerpool.Pool
}

// Handle services one connection to completion: it reads the top-level
// session request and dispatches it through the new-session or
// resume-session phase sequence. The returned restart flag tells the
// caller whether to tear down its listener and initiate an OS restart
// (true, after a successful new-session) or keep accepting (false,
// after any resume-session outcome, or after a failed new-session).
//
// After Handle returns with restart=false, the caller is expected to
// sweep the session root for stray directories before accepting the
// next connection (spec's session-root invariant) — that sweep is not
// performed here, since a successful resume leaves its directory in
// place for the external recorder to use.
func Handle(ctx context.Context, conn *proto.Conn, deps Deps) (restart bool, err error) {
	kind, raw, err := conn.Recv()
	if err != nil {
		return false, err
	}

	switch kind {
	case proto.KindNewSession:
		var req proto.NewSession
		if err := json.Unmarshal(raw, &req); err != nil {
			return false, fmt.Errorf("runner: decode new_session: %w", err)
		}
		return handleNewSession(ctx, conn, deps, req)

	case proto.KindResumeSession:
		var req proto.ResumeSession
		if err := json.Unmarshal(raw, &req); err != nil {
			return false, fmt.Errorf("runner: decode resume_session: %w", err)
		}
		return false, handleResumeSession(ctx, conn, deps, req)

	default:
		return false, &proto.KindMismatchError{Expected: proto.KindNewSession + " or " + proto.KindResumeSession, Actual: kind}
	}
}

func handleNewSession(ctx context.Context, conn *proto.Conn, deps Deps, req proto.NewSession) (bool, error) {
	info, err := deps.Sessions.Create()
	if err != nil {
		_ = conn.Send(proto.KindNewSessionAck, proto.NewSessionAck{Error: err.Error()})
		return false, err
	}

	if err := conn.Send(proto.KindNewSessionAck, proto.Ok(info.ID)); err != nil {
		_ = deps.Sessions.Cleanup(info)
		return false, err
	}

	guard := session.NewGuard(deps.Sessions, info)
	defer guard.Run()

	log.Info("new session allocated", "sessionId", info.ID, "taskId", req.BuildTaskID)

	if _, err := downloadBuild(ctx, conn, deps, info, req.BuildTaskID); err != nil {
		return false, err
	}

	if err := disableUpdates(conn, info); err != nil {
		return false, err
	}

	profileDir, err := provideProfile(ctx, conn, deps, info, req.ProfileSize)
	if err != nil {
		return false, err
	}

	if err := writePrefs(conn, profileDir, req.Prefs); err != nil {
		return false, err
	}

	if err := deps.Shutdown.InitiateRestart("coldstart: restarting for cold browser start"); err != nil {
		log.Error("could not restart", "sessionId", info.ID, "error", err)
		_ = conn.Send(proto.KindRestarting, proto.Restarting{Error: err.Error()})
		return false, fmt.Errorf("runner: initiate restart: %w", err)
	}

	if err := conn.Send(proto.KindRestarting, proto.Restarting{}); err != nil {
		return false, err
	}

	guard.Disarm()
	return true, nil
}

func downloadBuild(ctx context.Context, conn *proto.Conn, deps Deps, info session.Info, taskID string) (string, error) {
	log.Info("downloading build", "sessionId", info.ID, "taskId", taskID)
	if err := conn.Send(proto.KindDownloadBuild, proto.Ok(proto.Downloading)); err != nil {
		return "", err
	}

	archivePath, err := deps.Artifacts.FetchBuild(ctx, taskID, info.Path)
	if err != nil {
		_ = conn.Send(proto.KindDownloadBuild, proto.DownloadBuild{Error: err.Error()})
		return "", fmt.Errorf("runner: fetch build: %w", err)
	}

	if err := conn.Send(proto.KindDownloadBuild, proto.Ok(proto.Downloaded)); err != nil {
		return "", err
	}

	log.Info("extracting downloaded artifact", "sessionId", info.ID)
	if err := workerpool.RunBlocking(ctx, deps.Pool, func() error {
		_, err := Unzip(archivePath, info.Path)
		return err
	}); err != nil {
		_ = conn.Send(proto.KindDownloadBuild, proto.DownloadBuild{Error: err.Error()})
		return "", fmt.Errorf("runner: extract build: %w", err)
	}

	browserPath := filepath.Join(info.Path, "firefox", deps.Sessions.BrowserBinary)
	if stat, statErr := os.Stat(browserPath); statErr != nil || stat.IsDir() {
		_ = conn.Send(proto.KindDownloadBuild, proto.DownloadBuild{Error: "No browser binary in build artifact"})
		return "", ErrMissingBrowser
	}

	log.Info("extracted build", "sessionId", info.ID)
	if err := conn.Send(proto.KindDownloadBuild, proto.Ok(proto.Extracted)); err != nil {
		return "", err
	}

	return browserPath, nil
}

func disableUpdates(conn *proto.Conn, info session.Info) error {
	distDir := filepath.Join(info.Path, "firefox", "distribution")
	if err := os.MkdirAll(distDir, 0755); err != nil {
		_ = conn.Send(proto.KindDisableUpdates, proto.DisableUpdates{Error: err.Error()})
		return fmt.Errorf("runner: create distribution dir: %w", err)
	}

	policyPath := filepath.Join(distDir, "policies.json")
	if err := os.WriteFile(policyPath, updatePolicyJSON, 0644); err != nil {
		_ = conn.Send(proto.KindDisableUpdates, proto.DisableUpdates{Error: err.Error()})
		return fmt.Errorf("runner: write update policy: %w", err)
	}

	return conn.Send(proto.KindDisableUpdates, proto.DisableUpdates{})
}

// provideProfile either creates an empty profile directory or receives
// one from the controller, depending on whether profileSize was
// supplied in the request.
func provideProfile(ctx context.Context, conn *proto.Conn, deps Deps, info session.Info, profileSize *int64) (string, error) {
	if profileSize == nil {
		log.Info("creating empty profile", "sessionId", info.ID)
		path, err := deps.Sessions.EnsureEmptyProfile(info)
		if err != nil {
			_ = conn.Send(proto.KindCreateProfile, proto.CreateProfile{Error: err.Error()})
			return "", fmt.Errorf("runner: ensure empty profile: %w", err)
		}
		if err := conn.Send(proto.KindCreateProfile, proto.CreateProfile{}); err != nil {
			return "", err
		}
		return path, nil
	}

	return recvProfile(ctx, conn, deps, info, *profileSize)
}

func recvProfile(ctx context.Context, conn *proto.Conn, deps Deps, info session.Info, size int64) (string, error) {
	log.Info("receiving profile", "sessionId", info.ID, "size", size)
	if err := conn.Send(proto.KindRecvProfile, proto.Ok(proto.Downloading)); err != nil {
		return "", err
	}

	zipPath := filepath.Join(info.Path, "profile.zip")
	if err := recvRawProfile(conn, zipPath, size); err != nil {
		_ = conn.Send(proto.KindRecvProfile, proto.RecvProfile{Error: err.Error()})
		return "", fmt.Errorf("runner: receive profile: %w", err)
	}

	log.Info("profile received; extracting", "sessionId", info.ID)
	if err := conn.Send(proto.KindRecvProfile, proto.Ok(proto.Downloaded)); err != nil {
		return "", err
	}

	// It is possible that the profile archive contains a top-level
	// directory of its own, in which case we don't want to extract
	// directly into session_path/profile. Instead the archive is
	// unzipped to a scratch directory and whichever entry turned out to
	// be that top-level directory (or the scratch directory itself, if
	// there wasn't one) is renamed into place.
	unzipPath := filepath.Join(info.Path, "unzipped_profile")

	var stats ZipStats
	if err := workerpool.RunBlocking(ctx, deps.Pool, func() error {
		var err error
		stats, err = Unzip(zipPath, unzipPath)
		return err
	}); err != nil {
		log.Error("could not extract profile", "sessionId", info.ID, "error", err)
		_ = conn.Send(proto.KindRecvProfile, proto.RecvProfile{Error: err.Error()})
		return "", fmt.Errorf("runner: extract profile: %w", err)
	}

	if stats.Extracted == 0 {
		log.Error("profile was empty", "sessionId", info.ID)
		_ = conn.Send(proto.KindRecvProfile, proto.RecvProfile{Error: "empty profile"})
		return "", ErrEmptyProfile
	}

	src := unzipPath
	if stats.TopLevelDir != "" {
		src = filepath.Join(unzipPath, stats.TopLevelDir)
	}

	profileDir := filepath.Join(info.Path, "profile")
	if err := os.Rename(src, profileDir); err != nil {
		log.Error("could not rename profile directory after extraction", "sessionId", info.ID, "error", err)
		_ = conn.Send(proto.KindRecvProfile, proto.RecvProfile{Error: err.Error()})
		return "", fmt.Errorf("runner: rename profile directory: %w", err)
	}

	log.Info("profile extracted", "sessionId", info.ID)
	if err := conn.Send(proto.KindRecvProfile, proto.Ok(proto.Extracted)); err != nil {
		return "", err
	}

	return profileDir, nil
}

// recvRawProfile reads exactly size bytes directly off the connection's
// underlying socket (bypassing JSON framing) into destPath. Ownership of
// the socket is never really transferred in Go the way it is in the
// original's borrow-checked design — Conn already holds the net.Conn by
// reference — but the read here is still strictly raw: no frame header,
// no JSON, exactly size bytes, after which framed traffic resumes on the
// same Conn.
func recvRawProfile(conn *proto.Conn, destPath string, size int64) error {
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.CopyN(f, conn.Into(), size); err != nil {
		return err
	}
	return nil
}

func writePrefs(conn *proto.Conn, profileDir string, prefs []proto.PrefEntry) error {
	if len(prefs) > 0 {
		userJS := filepath.Join(profileDir, "user.js")
		if err := proto.WriteUserJS(userJS, prefs); err != nil {
			_ = conn.Send(proto.KindWritePrefs, proto.WritePrefsAck{Error: err.Error()})
			return fmt.Errorf("runner: write prefs: %w", err)
		}
	}
	return conn.Send(proto.KindWritePrefs, proto.WritePrefsAck{})
}

func handleResumeSession(ctx context.Context, conn *proto.Conn, deps Deps, req proto.ResumeSession) error {
	log.Info("received resumption request", "sessionId", req.SessionID)

	info, err := deps.Sessions.Resume(req.SessionID)
	if err != nil {
		_ = conn.Send(proto.KindResumeAck, proto.ResumeAck{Error: err.Error()})
		return err
	}

	guard := session.NewGuard(deps.Sessions, info)
	defer guard.Run()

	if err := conn.Send(proto.KindResumeAck, proto.ResumeAck{}); err != nil {
		return err
	}

	if req.Idle == proto.IdleWait {
		log.Info("waiting to become idle", "sessionId", info.ID)
		if err := idle.WaitForIdle(ctx, deps.Perf); err != nil {
			log.Error("cpu and disk did not become idle", "sessionId", info.ID, "error", err)
			_ = conn.Send(proto.KindWaitForIdle, proto.WaitForIdle{Error: err.Error()})
			return fmt.Errorf("runner: wait for idle: %w", err)
		}
		log.Info("became idle", "sessionId", info.ID)
		if err := conn.Send(proto.KindWaitForIdle, proto.WaitForIdle{}); err != nil {
			return err
		}
	}

	guard.Disarm()
	return nil
}
