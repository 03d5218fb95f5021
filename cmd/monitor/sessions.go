package main

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/cardio.report/internal/db"
	"github.com/banshee-data/cardio.report/internal/store"
)

// catalog is the part of *db.DB the session log writes to.
type catalog interface {
	CreateSession(s *db.Session) error
	RecordMetrics(sessionID string, version uint64, metrics json.RawMessage, at time.Time) error
	FinishSession(id string, chunks int64, lastFailure string, at time.Time) error
}

// sessionLog opens a catalog session the first time a stream publishes a
// snapshot and appends its flat metrics at most once per interval.
type sessionLog struct {
	db           catalog
	source       string
	params       json.RawMessage
	every        time.Duration
	chunks       func(stream string) int64
	recordingDir string
	now          func() time.Time

	mu   sync.Mutex
	open map[string]*openSession
}

type openSession struct {
	id          string
	written     time.Time
	lastFailure string
}

func newSessionLog(c catalog, source string, params json.RawMessage, every time.Duration, chunks func(string) int64) *sessionLog {
	return &sessionLog{
		db:     c,
		source: source,
		params: params,
		every:  every,
		chunks: chunks,
		now:    time.Now,
		open:   map[string]*openSession{},
	}
}

// Observe is a monitor.Sink.
func (l *sessionLog) Observe(snap *store.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sess, ok := l.open[snap.Stream]
	if !ok {
		rec := &db.Session{
			Stream:       snap.Stream,
			Source:       l.source,
			RecordingDir: l.recordingDir,
			FS:           snap.FS,
			Params:       l.params,
			StartedAt:    now,
		}
		if err := l.db.CreateSession(rec); err != nil {
			log.Printf("create session for %s: %v", snap.Stream, err)
			return
		}
		log.Printf("session %s opened for stream %s", rec.ID, snap.Stream)
		sess = &openSession{id: rec.ID}
		l.open[snap.Stream] = sess
	}
	sess.lastFailure = snap.LastFailure
	if !sess.written.IsZero() && now.Sub(sess.written) < l.every {
		return
	}

	flat, err := snap.Flatten()
	if err != nil {
		log.Printf("flatten %s v%d: %v", snap.Stream, snap.Version, err)
		return
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		log.Printf("encode %s v%d: %v", snap.Stream, snap.Version, err)
		return
	}
	if err := l.db.RecordMetrics(sess.id, snap.Version, raw, now); err != nil {
		log.Printf("record metrics for session %s: %v", sess.id, err)
		return
	}
	sess.written = now
}

// Finish closes every open session.
func (l *sessionLog) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := make([]string, 0, len(l.open))
	for s := range l.open {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	now := l.now()
	for _, s := range streams {
		sess := l.open[s]
		if err := l.db.FinishSession(sess.id, l.chunks(s), sess.lastFailure, now); err != nil {
			log.Printf("finish session %s: %v", sess.id, err)
			continue
		}
		log.Printf("session %s finished", sess.id)
	}
	l.open = map[string]*openSession{}
}
