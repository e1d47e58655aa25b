package server

// recorderRegistry tracks the one optional media.Recorder per stream key
// when -record-all is enabled. Split out of livesource.Source (which stays
// transport/recording agnostic) because recording is an RTMP-server-local
// concern, not something WHIP or GB28181 ingest need to share.

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brightwing/streamcore/internal/rtmp/media"
)

type recorderRegistry struct {
	mu        sync.Mutex
	recorders map[string]*media.Recorder
	dir       string
}

func newRecorderRegistry(dir string) *recorderRegistry {
	return &recorderRegistry{recorders: make(map[string]*media.Recorder), dir: dir}
}

// Start creates and registers a recorder for streamKey, replacing any
// existing one (a reconnecting publisher starts a fresh file).
func (r *recorderRegistry) Start(streamKey string, log *slog.Logger) (*media.Recorder, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	safeKey := strings.ReplaceAll(streamKey, "/", "_")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, time.Now().Format("20060102_150405"))
	path := filepath.Join(r.dir, filename)

	rec, err := media.NewRecorder(path, log)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}

	r.mu.Lock()
	if old, ok := r.recorders[streamKey]; ok {
		_ = old.Close()
	}
	r.recorders[streamKey] = rec
	r.mu.Unlock()

	log.Info("recorder started", "stream_key", streamKey, "file", path)
	return rec, nil
}

// Get returns the active recorder for streamKey, or nil.
func (r *recorderRegistry) Get(streamKey string) *media.Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorders[streamKey]
}

// Stop closes and removes streamKey's recorder, if any.
func (r *recorderRegistry) Stop(streamKey string, log *slog.Logger) {
	r.mu.Lock()
	rec, ok := r.recorders[streamKey]
	if ok {
		delete(r.recorders, streamKey)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := rec.Close(); err != nil {
		log.Error("recorder close error", "error", err, "stream_key", streamKey)
	} else {
		log.Info("recorder closed", "stream_key", streamKey)
	}
}

// CloseAll closes every active recorder, used on server shutdown.
func (r *recorderRegistry) CloseAll(log *slog.Logger) {
	r.mu.Lock()
	recorders := r.recorders
	r.recorders = make(map[string]*media.Recorder)
	r.mu.Unlock()

	for streamKey, rec := range recorders {
		if err := rec.Close(); err != nil {
			log.Error("recorder close error", "error", err, "stream_key", streamKey)
		} else {
			log.Info("recorder closed", "stream_key", streamKey)
		}
	}
}
