// Package controller implements the recorder side of the cold-start
// protocol: it drives a worker through the new-session and
// resume-session phase sequences and owns reconnection across the
// worker's reboot boundary.
package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mozfx/coldstart/internal/logging"
	"github.com/mozfx/coldstart/internal/proto"
)

var log = logging.L("controller")

// ForeignError wraps an error message relayed from the worker's side of
// the connection. The worker's local error types stringify before they
// cross the wire, so the controller never shares an error hierarchy
// with it — it just surfaces the message.
type ForeignError struct {
	Phase   string
	Message string
}

func (e *ForeignError) Error() string {
	return fmt.Sprintf("controller: worker reported failure during %s: %s", e.Phase, e.Message)
}

// SequenceMismatchError is raised when a DownloadStatus ack arrives out
// of the strictly increasing order [Downloading, Downloaded, Extracted].
type SequenceMismatchError struct {
	Expected proto.DownloadStatus
	Actual   proto.DownloadStatus
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("controller: expected download status %q, got %q", e.Expected, e.Actual)
}

// RetryError is returned when ReconnectWithBackoff exhausts its attempts.
type RetryError struct {
	Source  error
	Retries int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("controller: giving up after %d reconnect attempts: %v", e.Retries, e.Source)
}

func (e *RetryError) Unwrap() error { return e.Source }

// Client drives one worker connection through the protocol.
type Client struct {
	conn *proto.Conn
}

// NewClient wraps an already-established connection.
func NewClient(conn *proto.Conn) *Client {
	return &Client{conn: conn}
}

// NewSession runs the full new-session phase sequence: it allocates a
// session on the worker, drives the build-download, update-disable, and
// profile phases, writes prefs, and waits for the worker's restart
// acknowledgement. profilePath may be empty, in which case the worker
// creates an empty profile instead of receiving one.
func (c *Client) NewSession(ctx context.Context, taskID, profilePath string, prefs []proto.PrefEntry) (string, error) {
	var profileSize *int64
	if profilePath != "" {
		stat, err := os.Stat(profilePath)
		if err != nil {
			return "", fmt.Errorf("controller: stat profile %s: %w", profilePath, err)
		}
		if !stat.Mode().IsRegular() {
			return "", fmt.Errorf("controller: profile %s is not a regular file", profilePath)
		}
		size := stat.Size()
		profileSize = &size
	}

	if err := c.conn.Send(proto.KindNewSession, proto.NewSession{
		BuildTaskID: taskID,
		ProfileSize: profileSize,
		Prefs:       prefs,
	}); err != nil {
		return "", err
	}

	ack, err := proto.RecvExpect[proto.NewSessionAck](c.conn, proto.KindNewSessionAck)
	if err != nil {
		return "", err
	}
	if ack.IsErr() {
		return "", &ForeignError{Phase: "new_session_ack", Message: ack.Error}
	}
	sessionID := ack.Value

	if err := c.consumeDownloadSequence(proto.KindDownloadBuild, "download_build"); err != nil {
		return sessionID, err
	}

	du, err := proto.RecvExpect[proto.DisableUpdates](c.conn, proto.KindDisableUpdates)
	if err != nil {
		return sessionID, err
	}
	if du.IsErr() {
		return sessionID, &ForeignError{Phase: "disable_updates", Message: du.Error}
	}

	if profilePath != "" {
		if err := c.sendProfile(profilePath, *profileSize); err != nil {
			return sessionID, err
		}
	} else {
		cp, err := proto.RecvExpect[proto.CreateProfile](c.conn, proto.KindCreateProfile)
		if err != nil {
			return sessionID, err
		}
		if cp.IsErr() {
			return sessionID, &ForeignError{Phase: "create_profile", Message: cp.Error}
		}
	}

	wp, err := proto.RecvExpect[proto.WritePrefsAck](c.conn, proto.KindWritePrefs)
	if err != nil {
		return sessionID, err
	}
	if wp.IsErr() {
		return sessionID, &ForeignError{Phase: "write_prefs", Message: wp.Error}
	}

	restarting, err := proto.RecvExpect[proto.Restarting](c.conn, proto.KindRestarting)
	if err != nil {
		return sessionID, err
	}
	if restarting.IsErr() {
		return sessionID, &ForeignError{Phase: "restarting", Message: restarting.Error}
	}

	log.Info("worker restarting", "sessionId", sessionID)
	return sessionID, nil
}

// consumeDownloadSequence reads three acks of the given kind and
// validates they form the strictly increasing prefix
// [Downloading, Downloaded, Extracted].
func (c *Client) consumeDownloadSequence(kind, phase string) error {
	status := proto.Downloading
	for i := 0; i < 3; i++ {
		var msg proto.Result[proto.DownloadStatus]
		var err error
		switch kind {
		case proto.KindDownloadBuild:
			msg, err = proto.RecvExpect[proto.DownloadBuild](c.conn, kind)
		case proto.KindRecvProfile:
			msg, err = proto.RecvExpect[proto.RecvProfile](c.conn, kind)
		}
		if err != nil {
			return err
		}
		if msg.IsErr() {
			return &ForeignError{Phase: phase, Message: msg.Error}
		}

		if i == 0 {
			if msg.Value != status {
				return &SequenceMismatchError{Expected: status, Actual: msg.Value}
			}
		} else {
			next, _ := status.Next()
			if msg.Value != next {
				return &SequenceMismatchError{Expected: next, Actual: msg.Value}
			}
			status = next
		}
	}
	return nil
}

// sendProfile consumes the RecvProfile{Downloading} ack, streams the
// profile's raw bytes, then consumes the remaining two acks in order.
func (c *Client) sendProfile(profilePath string, size int64) error {
	first, err := proto.RecvExpect[proto.RecvProfile](c.conn, proto.KindRecvProfile)
	if err != nil {
		return err
	}
	if first.IsErr() {
		return &ForeignError{Phase: "recv_profile", Message: first.Error}
	}
	if first.Value != proto.Downloading {
		return &SequenceMismatchError{Expected: proto.Downloading, Actual: first.Value}
	}

	f, err := os.Open(profilePath)
	if err != nil {
		return fmt.Errorf("controller: open profile %s: %w", profilePath, err)
	}
	defer f.Close()

	if _, err := io.CopyN(c.conn.Into(), f, size); err != nil {
		return fmt.Errorf("controller: stream profile: %w", err)
	}

	return c.consumeDownloadSequenceFrom(proto.Downloading)
}

func (c *Client) consumeDownloadSequenceFrom(status proto.DownloadStatus) error {
	for i := 0; i < 2; i++ {
		msg, err := proto.RecvExpect[proto.RecvProfile](c.conn, proto.KindRecvProfile)
		if err != nil {
			return err
		}
		if msg.IsErr() {
			return &ForeignError{Phase: "recv_profile", Message: msg.Error}
		}
		next, _ := status.Next()
		if msg.Value != next {
			return &SequenceMismatchError{Expected: next, Actual: msg.Value}
		}
		status = next
	}
	return nil
}

// ResumeSession runs the resume-session phase sequence on an already
// reconnected connection: it sends the resume request, consumes the
// acknowledgement, and optionally waits for the worker to report the
// machine idle. Handing off to the recorder collaborator and driving the
// stop/session-finished exchange afterward is external to this client.
func (c *Client) ResumeSession(sessionID string, idle proto.Idle) error {
	if err := c.conn.Send(proto.KindResumeSession, proto.ResumeSession{
		SessionID: sessionID,
		Idle:      idle,
	}); err != nil {
		return err
	}

	ack, err := proto.RecvExpect[proto.ResumeAck](c.conn, proto.KindResumeAck)
	if err != nil {
		return err
	}
	if ack.IsErr() {
		return &ForeignError{Phase: "resume_ack", Message: ack.Error}
	}

	if idle == proto.IdleWait {
		wi, err := proto.RecvExpect[proto.WaitForIdle](c.conn, proto.KindWaitForIdle)
		if err != nil {
			return err
		}
		if wi.IsErr() {
			return &ForeignError{Phase: "wait_for_idle", Message: wi.Error}
		}
	}

	return nil
}

// Default reconnect schedule: fixed initial delay of 30s, doubling each
// try, 4 tries (total backoff of 30+60+120+240 = 7m30s).
const (
	DefaultReconnectDelay = 30 * time.Second
	defaultMaxReconnects  = 4
)

// ReconnectWithBackoff dials addr, waiting with exponential backoff
// before every attempt — starting at initialDelay (defaulting to
// DefaultReconnectDelay when initialDelay <= 0) and doubling each try,
// up to maxTries attempts (defaulting to defaultMaxReconnects when
// maxTries <= 0) — mirroring the original's delayed_exponential_retry,
// which delays before the first attempt and every one after. Returns
// the wrapped connection on success, or a *RetryError carrying the
// last dial error on exhaustion.
func ReconnectWithBackoff(ctx context.Context, addr string, maxTries int, initialDelay time.Duration) (*proto.Conn, error) {
	if maxTries <= 0 {
		maxTries = defaultMaxReconnects
	}
	if initialDelay <= 0 {
		initialDelay = DefaultReconnectDelay
	}

	delay := initialDelay
	var lastErr error

	for attempt := 0; attempt < maxTries; attempt++ {
		log.Warn("waiting before reconnect attempt", "attempt", attempt+1, "addr", addr, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, &RetryError{Source: ctx.Err(), Retries: attempt}
		case <-time.After(delay):
		}
		delay *= 2

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return proto.NewConn(conn), nil
		}
		lastErr = err
		log.Warn("reconnect attempt failed", "attempt", attempt+1, "addr", addr, "error", err)
	}

	return nil, &RetryError{Source: lastErr, Retries: maxTries}
}
