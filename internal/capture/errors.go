package capture

import "errors"

var (
	// ErrSensorUnavailable is returned by a sample source that cannot
	// deliver readings (permission revoked, sensor missing).
	ErrSensorUnavailable = errors.New("sensor unavailable")

	// ErrNetworkTransient marks a failure worth retrying: timeouts,
	// connection resets, 5xx responses.
	ErrNetworkTransient = errors.New("transient network error")

	// ErrNotRecording is returned by Record outside the Recording state.
	ErrNotRecording = errors.New("controller is not recording")

	// ErrUploadsQueued reports that some chunks stayed queued after the
	// retry budget ran out. The chunks are still on disk and resume on
	// the next Recover.
	ErrUploadsQueued = errors.New("uploads queued for later")
)
