package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/acesanderson/conduit/internal/model"
)

// ErrConcurrentAppend is returned when two goroutines attempt to append to
// the same Conversation at once. Per §5's ordering guarantees, concurrent
// appends to one Conversation object must produce an error, not a race;
// callers are expected to serialize edits to one session themselves.
var ErrConcurrentAppend = errors.New("session: concurrent append to the same conversation")

// Conversation is an ordered, linear projection over a subset of a Session's
// messages. The Session is the source of truth; Conversation holds the
// session pointer, an ordered list of messages, and its own leaf pointer
// (§9 "cyclic references"). The leaf is per-Conversation, not per-Session,
// because one Session can back several diverging Conversations at once
// (Branch) — each must backfill PredecessorID from where IT left off, not
// from whichever Conversation last touched the shared Session.
type Conversation struct {
	mu       sync.Mutex
	session  *Session
	messages []model.Message
	leaf     string
}

// New creates an empty Conversation with no backing Session. The Session is
// bootstrapped lazily on the first Add, per §4.3.
func New() *Conversation {
	return &Conversation{}
}

// FromSession wraps an existing Session, projecting the given messages
// (typically the result of Session.Ancestors) as the Conversation's linear
// view, seeding leaf at the tail of that projection so the next Add chains
// off it rather than off the Session's own (possibly unrelated) leaf.
func FromSession(s *Session, messages []model.Message) *Conversation {
	c := &Conversation{session: s, messages: append([]model.Message(nil), messages...)}
	if n := len(c.messages); n > 0 {
		c.leaf = c.messages[n-1].MessageID()
	}
	return c
}

// Session returns the backing Session, or nil if no message has been added yet.
func (c *Conversation) Session() *Session { return c.session }

// Messages returns a copy of the conversation's ordered message list.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// State classifies the conversation by its tail message (§3).
func (c *Conversation) State() model.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.DeriveState(c.messages)
}

// Add appends msg to the conversation, enforcing system-message uniqueness
// and role-alternation discipline, lazily bootstrapping the Session on the
// first call, and backfilling PredecessorID/SessionID from the current leaf
// (§4.3). Add does not block on concurrent callers; a second caller racing
// the first observes ErrConcurrentAppend.
func (c *Conversation) Add(msg model.Message) error {
	if !c.mu.TryLock() {
		return ErrConcurrentAppend
	}
	defer c.mu.Unlock()

	if err := c.checkInvariants(msg); err != nil {
		return err
	}
	if c.session == nil {
		c.session = NewSession()
	}
	linked := c.session.append(msg, c.leaf)
	c.messages = append(c.messages, linked)
	c.leaf = linked.MessageID()
	return nil
}

// checkInvariants validates msg against the role-alternation and
// system-uniqueness rules of §3/§8 invariant 4 before it is appended.
func (c *Conversation) checkInvariants(msg model.Message) error {
	if _, ok := msg.(model.SystemMessage); ok {
		for _, m := range c.messages {
			if _, isSys := m.(model.SystemMessage); isSys {
				return errors.New("session: conversation already has a system message")
			}
		}
		if len(c.messages) > 0 {
			return errors.New("session: system message must be first")
		}
		return nil
	}

	if len(c.messages) == 0 {
		return nil
	}
	last := c.messages[len(c.messages)-1]

	if msg.Role() != last.Role() {
		return nil
	}

	// Same role as the tail: only a contiguous ToolMessage block following an
	// AssistantMessage with matching tool_call_ids is permitted.
	tm, isTool := msg.(model.ToolMessage)
	if !isTool {
		return fmt.Errorf("session: consecutive messages cannot share role %q", msg.Role())
	}
	if _, lastIsTool := last.(model.ToolMessage); lastIsTool {
		// extending an existing tool block; validate against the assistant
		// message that started it.
		assistant, err := c.toolBlockOrigin()
		if err != nil {
			return err
		}
		if !matchesToolCall(assistant, tm.ToolCallID) {
			return fmt.Errorf("session: tool_call_id %q does not match the originating assistant message", tm.ToolCallID)
		}
		return nil
	}
	return fmt.Errorf("session: consecutive messages cannot share role %q", msg.Role())
}

// toolBlockOrigin returns the AssistantMessage immediately preceding the
// current trailing run of ToolMessages.
func (c *Conversation) toolBlockOrigin() (model.AssistantMessage, error) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if am, ok := c.messages[i].(model.AssistantMessage); ok {
			return am, nil
		}
		if _, ok := c.messages[i].(model.ToolMessage); !ok {
			break
		}
	}
	return model.AssistantMessage{}, errors.New("session: tool message block has no originating assistant message")
}

func matchesToolCall(assistant model.AssistantMessage, toolCallID string) bool {
	for _, tc := range assistant.ToolCalls {
		if tc.ToolCallID == toolCallID {
			return true
		}
	}
	return false
}

// Branch returns a new Conversation whose message list is the ancestor
// chain up to and including index k, sharing the same Session (§4.3, §8
// invariant 5). Appending to the branch never changes the original: the
// branch's own leaf is seeded at messages[k], so its next Add backfills
// PredecessorID from the branch point, not from the original's current tail
// (which may since have moved on) or the Session's own leaf bookkeeping.
func (c *Conversation) Branch(k int) (*Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k < 0 || k >= len(c.messages) {
		return nil, fmt.Errorf("session: branch index %d out of range [0,%d)", k, len(c.messages))
	}
	prefix := append([]model.Message(nil), c.messages[:k+1]...)
	return &Conversation{session: c.session, messages: prefix, leaf: prefix[k].MessageID()}, nil
}

// Prune truncates the conversation's local view to its tail n messages
// without touching the Session; the dropped messages remain reachable by
// MessageID through the Session (§4.3).
func (c *Conversation) Prune(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 || n >= len(c.messages) {
		return
	}
	c.messages = append([]model.Message(nil), c.messages[len(c.messages)-n:]...)
}
