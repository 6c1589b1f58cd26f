package proto

// Kind tags for every ControllerMsg and WorkerMsg variant. The
// controller and worker each know statically which kind to expect next
// within a phase; RecvExpect enforces that against the wire.
const (
	// ControllerMsg (controller -> worker).
	KindNewSession    = "new_session"
	KindResumeSession = "resume_session"

	// WorkerMsg (worker -> controller), one per phase acknowledgement.
	KindNewSessionAck  = "new_session_ack"
	KindDownloadBuild  = "download_build"
	KindDisableUpdates = "disable_updates"
	KindRecvProfile    = "recv_profile"
	KindCreateProfile  = "create_profile"
	KindWritePrefs     = "write_prefs"
	KindRestarting     = "restarting"
	KindResumeAck      = "resume_ack"
	KindWaitForIdle    = "wait_for_idle"
)

// Idle tells the worker whether a resume-session should wait for the
// machine to go idle before handing off to the recorder.
type Idle string

const (
	IdleWait Idle = "wait"
	IdleSkip Idle = "skip"
)

// PrefEntry is one (key, value) pair carried in a NewSession request.
type PrefEntry struct {
	Key   string    `json:"key"`
	Value PrefValue `json:"value"`
}

// NewSession is the controller's request to begin a fresh session.
// ProfileSize is nil when no profile is being supplied, in which case
// the worker creates an empty one instead of waiting for a stream.
type NewSession struct {
	BuildTaskID string      `json:"build_task_id"`
	ProfileSize *int64      `json:"profile_size,omitempty"`
	Prefs       []PrefEntry `json:"prefs"`
}

// ResumeSession is the controller's request to resume a session that
// survived a reboot.
type ResumeSession struct {
	SessionID string `json:"session_id"`
	Idle      Idle   `json:"idle"`
}

// Result wraps a phase's outcome. The worker's local error types
// stringify into Error so the controller can surface a human-readable
// failure reason without sharing error hierarchies across the wire.
type Result[T any] struct {
	Value T      `json:"value"`
	Error string `json:"error,omitempty"`
}

// Ok wraps a successful phase outcome.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail wraps a phase outcome that failed, carrying the error's message.
func Fail[T any](msg string) Result[T] { return Result[T]{Error: msg} }

// IsErr reports whether this result carries a failure.
func (r Result[T]) IsErr() bool { return r.Error != "" }

// DownloadStatus is the ordered progress tag reported during the build
// download/extract and profile receive/extract phases.
type DownloadStatus string

const (
	Downloading DownloadStatus = "Downloading"
	Downloaded  DownloadStatus = "Downloaded"
	Extracted   DownloadStatus = "Extracted"
)

// Next returns the status that must immediately follow s, and false if s
// is already terminal. The controller uses this to verify that acks
// within a phase form a strictly increasing prefix of
// [Downloading, Downloaded, Extracted].
func (s DownloadStatus) Next() (DownloadStatus, bool) {
	switch s {
	case Downloading:
		return Downloaded, true
	case Downloaded:
		return Extracted, true
	default:
		return "", false
	}
}

// empty is the JSON-friendly unit payload for phase acks that carry no
// value beyond success/failure.
type empty struct{}

// Phase payload types, one per WorkerMsg variant named in spec.md §4.2.
type (
	NewSessionAck  = Result[string]
	DownloadBuild  = Result[DownloadStatus]
	DisableUpdates = Result[empty]
	RecvProfile    = Result[DownloadStatus]
	CreateProfile  = Result[empty]
	WritePrefsAck  = Result[empty]
	Restarting     = Result[empty]
	ResumeAck      = Result[empty]
	WaitForIdle    = Result[empty]
)
