package chum

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/objectstore"
)

// windowSize bounds how many hashes a session may have announced but not
// yet resolved (via REQUEST+OBJECT or DENY) at once (spec.md §5, §4.7).
const windowSize = 64

// Conn is the transport-agnostic connection a Session rides on.
// *quicvc.Conn and *wsdirect.Conn both satisfy this already.
type Conn interface {
	SendStream(data []byte) error
	Run(ctx context.Context, onStream func([]byte)) error
}

// Engine tracks one Session per connected peer and fans local object
// writes out to every session whose peer is allowed to read them.
type Engine struct {
	store  *objectstore.Store
	access *access.Engine
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[identity.PersonID]*Session
}

// New builds an Engine backed by store for object data and access for
// read-permission checks.
func New(store *objectstore.Store, accessEngine *access.Engine, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		access:   accessEngine,
		logger:   logger,
		sessions: make(map[identity.PersonID]*Session),
	}
}

// AddSession registers a new connection to peer and returns its Session.
// The caller runs Session.Run to drive the protocol loop.
func (e *Engine) AddSession(peer identity.PersonID, conn Conn) *Session {
	s := newSession(e, peer, conn)
	e.mu.Lock()
	e.sessions[peer] = s
	e.mu.Unlock()
	return s
}

// RemoveSession drops a session when its transport closes (spec.md §4.7
// "transport close -> abandon queues").
func (e *Engine) RemoveSession(peer identity.PersonID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, peer)
}

// NotifyWrite is called after any local object write (directly, or via
// the Channel/Access/Topic managers) and offers hash to every connected
// session's export path. Callers are expected to call this in
// dependency order (the hash an object references before the object
// itself), which is how this implementation satisfies the
// leaves-before-referrers ordering guarantee without re-deriving a
// per-type dependency graph.
func (e *Engine) NotifyWrite(ctx context.Context, hash canon.Hash) {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.considerExport(ctx, hash)
	}
}

// Session is one peer connection's CHUM state: an export queue of
// hashes believed readable by the peer, and the set of hashes requested
// from the peer but not yet received.
type Session struct {
	engine *Engine
	peer   identity.PersonID
	conn   Conn
	logger *zap.Logger

	mu         sync.Mutex
	queue      []canon.Hash         // enqueued, not yet announced
	announced  map[canon.Hash]bool  // announced, awaiting REQUEST or DENY resolution
	pendingImp map[canon.Hash]bool  // requested from peer, awaiting OBJECT
}

func newSession(e *Engine, peer identity.PersonID, conn Conn) *Session {
	return &Session{
		engine:     e,
		peer:       peer,
		conn:       conn,
		logger:     e.logger,
		announced:  make(map[canon.Hash]bool),
		pendingImp: make(map[canon.Hash]bool),
	}
}

// considerExport enqueues hash for announcement if the peer may read it.
func (s *Session) considerExport(ctx context.Context, hash canon.Hash) {
	ok, err := s.engine.access.CanRead(ctx, s.peer, hash)
	if err != nil {
		s.logger.Warn("chum: access check failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, hash)
	s.mu.Unlock()
	s.drainQueue()
}

// drainQueue sends an ANNOUNCE for as many queued hashes as fit within
// the in-flight window.
func (s *Session) drainQueue() {
	s.mu.Lock()
	room := windowSize - len(s.announced)
	if room <= 0 || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	if room > len(s.queue) {
		room = len(s.queue)
	}
	batch := append([]canon.Hash(nil), s.queue[:room]...)
	s.queue = s.queue[room:]
	for _, h := range batch {
		s.announced[h] = true
	}
	s.mu.Unlock()

	if err := s.conn.SendStream(EncodeMessage(MsgAnnounce, EncodeHashes(batch))); err != nil {
		s.logger.Warn("chum: send announce failed", zap.Error(err))
	}
}

// Run drives the protocol loop until ctx is cancelled or the transport
// closes.
func (s *Session) Run(ctx context.Context) error {
	defer s.engine.RemoveSession(s.peer)
	return s.conn.Run(ctx, func(b []byte) {
		if err := s.handleMessage(ctx, b); err != nil {
			s.logger.Warn("chum: malformed message", zap.Error(err))
		}
	})
}

func (s *Session) handleMessage(ctx context.Context, b []byte) error {
	typ, payload, err := DecodeMessage(b)
	if err != nil {
		return err
	}
	switch typ {
	case MsgAnnounce:
		return s.handleAnnounce(payload)
	case MsgRequest:
		return s.handleRequest(ctx, payload)
	case MsgObject:
		return s.handleObject(payload)
	case MsgDone:
		return nil
	case MsgDeny:
		return s.handleDeny(payload)
	default:
		return nil
	}
}

// handleAnnounce is the import side: request whatever we don't already
// have (spec.md §4.7).
func (s *Session) handleAnnounce(payload []byte) error {
	hashes, err := DecodeHashes(payload)
	if err != nil {
		return err
	}
	var want []canon.Hash
	for _, h := range hashes {
		if s.engine.store.Exists(h) {
			continue
		}
		want = append(want, h)
	}
	if len(want) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, h := range want {
		s.pendingImp[h] = true
	}
	s.mu.Unlock()
	return s.conn.SendStream(EncodeMessage(MsgRequest, EncodeHashes(want)))
}

// handleRequest is the export side's fulfillment of a peer's REQUEST:
// serve what the peer may read, deny the rest.
func (s *Session) handleRequest(ctx context.Context, payload []byte) error {
	hashes, err := DecodeHashes(payload)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		s.resolveAnnounced(h)

		allowed, err := s.engine.access.CanRead(ctx, s.peer, h)
		if err != nil {
			s.logger.Warn("chum: access check failed during request", zap.Error(err))
			continue
		}
		if !allowed {
			if err := s.conn.SendStream(EncodeMessage(MsgDeny, EncodeDeny(h))); err != nil {
				return err
			}
			continue
		}
		data, err := s.engine.store.GetByContentHash(h)
		if err != nil {
			s.logger.Warn("chum: requested hash not found", zap.Error(err))
			if err := s.conn.SendStream(EncodeMessage(MsgDeny, EncodeDeny(h))); err != nil {
				return err
			}
			continue
		}
		if err := s.conn.SendStream(EncodeMessage(MsgObject, EncodeObject(h, data))); err != nil {
			return err
		}
	}
	return s.conn.SendStream(EncodeMessage(MsgDone, nil))
}

// handleObject is the import side's receipt of requested content.
// A hash mismatch is discarded, logged, and the connection continues
// (spec.md §4.7 failure semantics).
func (s *Session) handleObject(payload []byte) error {
	hash, data, err := DecodeObject(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pendingImp, hash)
	s.mu.Unlock()

	if err := s.engine.store.StoreRawContent(hash, data); err != nil {
		s.logger.Warn("chum: discarding object with mismatched hash", zap.Error(err))
		return nil
	}
	return nil
}

func (s *Session) handleDeny(payload []byte) error {
	hash, err := DecodeDeny(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pendingImp, hash)
	s.mu.Unlock()
	return nil
}

// resolveAnnounced frees a window slot once a previously announced hash
// has been requested (and thus will be served or denied).
func (s *Session) resolveAnnounced(hash canon.Hash) {
	s.mu.Lock()
	delete(s.announced, hash)
	s.mu.Unlock()
	s.drainQueue()
}
