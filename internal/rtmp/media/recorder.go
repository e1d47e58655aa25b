package media

// FLV Recorder
// ------------
// Persists a published stream's packets to a single FLV file. Retyped from
// raw chunk.Message onto internal/packet.Packet and delegates the actual
// header/tag framing to internal/flv (the byte-for-byte framing this file
// used to own privately) so internal/httplive's HTTP-FLV handler and this
// file's recorded output share one implementation instead of two.
// Graceful degradation: on any write error the recorder is disabled (live
// streaming continues unaffected).

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/brightwing/streamcore/internal/flv"
	"github.com/brightwing/streamcore/internal/packet"
)

// Recorder persists RTMP audio/video messages into a single FLV file.
// It is safe for single‑goroutine use (the media relay loop). A mutex is
// included only to guard against accidental concurrent calls in future
// extensions.
type Recorder struct {
	mu           sync.Mutex
	w            io.WriteCloser
	logger       *slog.Logger
	wroteHeader  bool
	bytesWritten uint64
}

// NewRecorder creates a recorder writing to the supplied file path. If file
// creation fails it returns a nil *Recorder and the error.
func NewRecorder(path string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder.create: %w", err)
	}
	r := &Recorder{w: f, logger: logger}
	if err := r.writeHeader(); err != nil {
		// writeHeader already closed on failure
		return nil, err
	}
	return r, nil
}

// newRecorderWithWriter allows tests to inject a failing writer (disk full simulation).
func newRecorderWithWriter(w io.WriteCloser, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{w: w, logger: logger}
	_ = r.writeHeader() // Ignore error in helper; tests can assert state.
	return r
}

// Disabled returns true if the recorder encountered a fatal write error.
func (r *Recorder) Disabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w == nil
}

// writeHeader writes the FLV file header via internal/flv. Both audio and
// video flags are always set, matching every recording this type has ever
// produced: a recorded file is written before we know whether the stream
// will carry both media kinds.
func (r *Recorder) writeHeader() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil || r.wroteHeader {
		return nil
	}
	if err := flv.WriteHeader(r.w, true, true); err != nil {
		r.logger.Error("recorder write header failed", "err", err)
		r.closeLocked()
		return fmt.Errorf("recorder.header: %w", err)
	}
	r.wroteHeader = true
	r.bytesWritten += 13
	return nil
}

// WriteMessage persists one packet as an FLV tag. Packet kinds FLV has no
// tag type for (none currently) are ignored silently. Safe to call after a
// failure; it no-ops when disabled.
func (r *Recorder) WriteMessage(p *packet.Packet) {
	if p == nil {
		return
	}
	if _, ok := flv.TagType(p.Kind); !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil { // disabled
		return
	}
	if !r.wroteHeader {
		if err := r.writeHeader(); err != nil {
			return
		}
	}
	if err := flv.WriteTag(r.w, p); err != nil {
		r.logger.Error("recorder tag write failed", "err", err)
		r.closeLocked()
		return
	}
	r.bytesWritten += uint64(11 + len(p.Payload) + 4)
}

// Close releases the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}
