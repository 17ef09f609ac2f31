// Package session implements the Conversation/Session DAG (C3): a Session is
// the source of truth for a dictionary of immutable messages keyed by
// MessageID, owning a leaf pointer; a Conversation is an ordered, linear
// projection over a subset of one Session's messages.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acesanderson/conduit/internal/model"
)

// Session owns the append-only message dictionary and the current leaf
// pointer. Messages are never mutated in place; appends create new entries.
type Session struct {
	id        string
	messages  map[string]model.Message
	leaf      string
	createdAt int64
}

// NewSession creates an empty Session with a fresh SessionID.
func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		messages:  make(map[string]model.Message),
		createdAt: time.Now().UnixMilli(),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Leaf returns the current leaf message id, or "" if the session is empty.
func (s *Session) Leaf() string { return s.leaf }

// CreatedAt returns the session's creation time in epoch milliseconds.
func (s *Session) CreatedAt() int64 { return s.createdAt }

// Get returns the message with the given id, if present.
func (s *Session) Get(id string) (model.Message, bool) {
	m, ok := s.messages[id]
	return m, ok
}

// Len returns the number of messages in the session.
func (s *Session) Len() int { return len(s.messages) }

// All returns every message in the session dictionary in no particular order.
func (s *Session) All() []model.Message {
	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	return out
}

// append backfills msg's PredecessorID (= predecessorID, the calling
// Conversation's own leaf, not a session-wide pointer — a Session can back
// several diverging Conversations at once, e.g. after Branch) and SessionID,
// then inserts it and advances the session's own leaf bookkeeping (used only
// for persistence, e.g. repository.Save's leaf_message_id column). Returns
// the backfilled message.
func (s *Session) append(msg model.Message, predecessorID string) model.Message {
	linked := model.WithLineage(msg, predecessorID, s.id, time.Now().UnixMilli())
	s.messages[linked.MessageID()] = linked
	s.leaf = linked.MessageID()
	return linked
}

// restore re-inserts an already-linked message (e.g. loaded from a
// repository) without recomputing lineage, and advances the leaf if asked.
// Used by the repository layer to rehydrate a Session from storage.
func (s *Session) restore(msg model.Message, advanceLeaf bool) {
	s.messages[msg.MessageID()] = msg
	if advanceLeaf {
		s.leaf = msg.MessageID()
	}
}

// Restore rebuilds a Session's message dictionary and leaf pointer from a
// durable representation, for use by internal/repository.
func Restore(id string, createdAt int64, leaf string, messages []model.Message) *Session {
	s := &Session{id: id, messages: make(map[string]model.Message, len(messages)), createdAt: createdAt}
	for _, m := range messages {
		s.messages[m.MessageID()] = m
	}
	s.leaf = leaf
	return s
}

// Ancestors walks PredecessorID from leafID back to a root message (one with
// an empty PredecessorID), returning the chain in chronological (root-first)
// order. It bounds the walk at Len() steps and errors on overrun, which can
// only happen if the predecessor chain cycles — the testable property this
// guards is that ancestry terminates within |session.messages| steps (§8
// invariant 3).
func (s *Session) Ancestors(leafID string) ([]model.Message, error) {
	bound := s.Len()
	chain := make([]model.Message, 0, bound)
	cur := leafID
	for steps := 0; ; steps++ {
		if steps > bound {
			return nil, fmt.Errorf("session: ancestry walk from %q did not terminate within %d steps", leafID, bound)
		}
		msg, ok := s.Get(cur)
		if !ok {
			return nil, fmt.Errorf("session: message %q not found in session %q", cur, s.id)
		}
		chain = append(chain, msg)
		if msg.PredecessorID() == "" {
			break
		}
		cur = msg.PredecessorID()
	}
	// reverse into chronological order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
