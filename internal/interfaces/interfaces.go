// Package interfaces defines the internal collaborator boundaries of the
// SDK. These are separate from the public package so that internal
// packages (command, transfer, vfs, commloop) can depend on them without
// importing the root connectsdk package, avoiding import cycles.
package interfaces

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"
)

// HttpTransport abstracts a single HTTPS request/response exchange.
// Production code backs this with net/http; tests back it with an
// in-memory stub (see connectsdk.MockHttpTransport).
type HttpTransport interface {
	// Do sends req and returns the response. Implementations must honor
	// req.Context() for cancellation and must not retry; retry policy is
	// the caller's responsibility (spec §4.1 step 4).
	Do(req *http.Request) (*http.Response, error)
}

// StorageBackend is the physical I/O delegate for a mounted storage
// (spec §6). The in-memory Filesystem tree is authoritative for emitted
// listings; StorageBackend performs the actual bytes-on-disk work.
type StorageBackend interface {
	OpenRead(path string) (io.ReadCloser, error)
	OpenWrite(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Unlink(path string) error
	Mkdir(path string) error
	Listdir(path string) ([]os.FileInfo, error)
	Statvfs(path string) (free, total uint64, err error)
}

// MetadataExtractor is the pluggable g-code metadata parser boundary
// (spec §1, §4.3): thumbnail extraction, slicer header parsing and the
// like are printer-type-specific and live outside the core.
type MetadataExtractor interface {
	// Extract returns a free-form metadata record for the file at path.
	// An empty, nil-error return means "nothing to cache" (spec §4.3).
	Extract(ctx context.Context, path string) (map[string]any, error)
}

// FilesystemWatcher is the abstract notification source behind
// metadata-cache invalidation (spec §9): production implementations use
// inotify/kqueue/ReadDirectoryChangesW/polling.
type FilesystemWatcher interface {
	OnCreated(path string)
	OnModified(path string)
	OnDeleted(path string)
	Close() error
}

// Clock abstracts monotonic and wall-clock time so the communication
// loop's clock-skew detection (spec §4.1 step 3) is testable without
// sleeping.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

// Logger is the minimal logging surface internal packages depend on.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observer is the pluggable metrics-collection surface; implementations
// must be thread-safe since methods are called from the loop, handler
// and transfer-worker contexts concurrently (spec §5).
type Observer interface {
	ObserveEventEnqueued(kind string)
	ObserveEventDropped(kind string)
	ObserveCommandDispatched(kind string)
	ObserveCommandRejected(kind string, reason string)
	ObserveTransferProgress(direction string, bytes uint64)
	ObserveRequestLatency(endpoint string, latencyNs uint64, success bool)
}
