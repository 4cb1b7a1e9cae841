// Package collab holds the live collaborative sessions: one automerge
// document per document id, the set of websocket connections editing it, and
// the debounced flush that persists state and mirrors the text back into the
// legacy latex_content column.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/thesislab/collabd/pkg/store"
	"github.com/thesislab/collabd/pkg/wire"
)

// latexField is the shared text field inside every document.
const latexField = "latex"

// Conn is the subset of *websocket.Conn the session needs, so tests can
// substitute in-memory connections.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Registry owns every live session in the process. Sessions are created on
// first access and stay resident afterwards; Drop removes one when the
// owning document is deleted. Construct one per process (or per test).
type Registry struct {
	store      store.Store
	flushAfter time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewRegistry(st store.Store, flushAfter time.Duration) *Registry {
	return &Registry{
		store:      st,
		flushAfter: flushAfter,
		sessions:   map[int64]*Session{},
	}
}

// GetOrCreate returns the live session for the document, creating and
// initialising it if needed. Initialisation happens exactly once per
// document id no matter how many connections race here: the losers block on
// the same sync.Once rather than seeding a second copy.
func (r *Registry) GetOrCreate(ctx context.Context, documentID int64) *Session {
	r.mu.Lock()
	s, ok := r.sessions[documentID]
	if !ok {
		s = &Session{id: documentID, reg: r, conns: map[Conn]struct{}{}}
		r.sessions[documentID] = s
	}
	r.mu.Unlock()
	s.init.Do(func() { s.initialize(ctx) })
	return s
}

// Drop tears down the live session for the document (closing any remaining
// connections) and deletes its persisted state and update log. Called from
// the document-deletion workflow.
func (r *Registry) Drop(ctx context.Context, documentID int64) error {
	r.mu.Lock()
	s := r.sessions[documentID]
	delete(r.sessions, documentID)
	r.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
		s.dirty = false
		for c := range s.conns {
			_ = c.Close()
		}
		s.conns = map[Conn]struct{}{}
		s.mu.Unlock()
	}

	return r.store.DeleteState(ctx, documentID)
}

// FlushAll synchronously persists every dirty session. Used on shutdown so
// that at most the edits of the current debounce window are in flight.
func (r *Registry) FlushAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
		s.mu.Unlock()
		s.flush()
	}
}

// Session is the single authoritative in-memory copy of one document. The
// mutex serialises document mutation, connection set changes, and all writes
// to member connections, so an update is applied and fanned out without
// interleaving with its siblings.
type Session struct {
	id   int64
	reg  *Registry
	init sync.Once

	mu         sync.Mutex
	doc        *automerge.Doc
	conns      map[Conn]struct{}
	flushTimer *time.Timer
	dirty      bool
}

// initialize loads the saved state if there is one, otherwise seeds a fresh
// document from the legacy latex_content column and persists that baseline
// immediately so no client can diverge from an unsaved seed. Storage errors
// degrade to a cold start; they never fail the session.
func (s *Session) initialize(ctx context.Context) {
	if raw, err := s.reg.store.LoadState(ctx, s.id); err == nil {
		if doc, err := automerge.Load(raw); err != nil {
			slog.Error("discarding unreadable saved state", "document", s.id, "err", err)
		} else {
			s.doc = doc
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to load saved state, treating as absent", "document", s.id, "err", err)
	}

	text, err := s.reg.store.LoadLegacyText(ctx, s.id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to read latex content for seeding", "document", s.id, "err", err)
	}

	doc := automerge.New()
	if err := doc.Path(latexField).Set(automerge.NewText(text)); err != nil {
		slog.Error("failed to seed document text", "document", s.id, "err", err)
	}
	if _, err := doc.Commit("seed from latex_content"); err != nil {
		slog.Error("failed to commit seeded document", "document", s.id, "err", err)
	}
	s.doc = doc

	if err := s.reg.store.SaveState(ctx, s.id, doc.Save()); err != nil {
		// kept in memory; the next debounced flush retries naturally
		slog.Error("failed to persist seeded state", "document", s.id, "err", err)
	}
}

// Attach sends the full current state to the connection as its first frame,
// adds it to the set, and tells everyone the new connection count.
func (s *Session) Attach(c Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := wire.Encode(wire.TypeSync, s.doc.Save())
	if err != nil {
		return err
	}
	if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	s.conns[c] = struct{}{}
	s.broadcastCountLocked()
	return nil
}

// Detach removes the connection from the set. Idempotent.
func (s *Session) Detach(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	s.broadcastCountLocked()
}

// ApplyUpdate applies the decoded delta to the document, relays the raw
// frame to every other connection, and schedules a flush. The update is also
// appended to the best-effort update log.
func (s *Session) ApplyUpdate(ctx context.Context, frame, delta []byte, from Conn) error {
	s.mu.Lock()
	if err := s.doc.LoadIncremental(delta); err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = true
	s.broadcastLocked(frame, from)
	s.scheduleFlushLocked()
	s.mu.Unlock()

	if err := s.reg.store.AppendUpdate(ctx, s.id, delta); err != nil {
		slog.Error("failed to append to update log", "document", s.id, "err", err)
	}
	return nil
}

// Broadcast relays a raw frame to every connection other than from. Used for
// awareness frames, which never touch the document or the store.
func (s *Session) Broadcast(frame []byte, from Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(frame, from)
}

// Snapshot returns the full encoded state of the document.
func (s *Session) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// Text returns the current value of the shared latex field.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textLocked()
}

// Clients returns the number of attached connections.
func (s *Session) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Session) textLocked() string {
	text, err := s.doc.Path(latexField).Text().Get()
	if err != nil {
		slog.Error("failed to read latex text", "document", s.id, "err", err)
		return ""
	}
	return text
}

// broadcastLocked writes the frame to every member except from. A connection
// that cannot be written to is skipped: one dead peer must not block fan-out
// to the rest, and its own read loop will detach it shortly.
func (s *Session) broadcastLocked(frame []byte, from Conn) {
	for c := range s.conns {
		if c == from {
			continue
		}
		if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			slog.Debug("skipping undeliverable connection", "document", s.id, "err", err)
		}
	}
}

func (s *Session) broadcastCountLocked() {
	frame, err := wire.Encode(wire.TypeClients, []byte(strconv.Itoa(len(s.conns))))
	if err != nil {
		return
	}
	s.broadcastLocked(frame, nil)
}

// scheduleFlushLocked restarts the trailing-edge debounce timer. A sustained
// stream of updates with gaps below the interval keeps pushing the flush
// out; that matches the intended write-amplification bound and shutdown
// still flushes whatever is dirty.
func (s *Session) scheduleFlushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.reg.flushAfter, s.flush)
}

// flush writes the full state snapshot and mirrors the text into the legacy
// column. Both are best effort: errors are logged and the next edit will
// schedule another attempt.
func (s *Session) flush() {
	ctx := context.Background()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	state := s.doc.Save()
	text := s.textLocked()
	s.mu.Unlock()

	if err := s.reg.store.SaveState(ctx, s.id, state); err != nil {
		slog.Error("failed to save document state", "document", s.id, "err", err)
	}
	if err := s.reg.store.SaveLegacyText(ctx, s.id, text); err != nil {
		slog.Error("failed to mirror latex content", "document", s.id, "err", err)
	}
}
