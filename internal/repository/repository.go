// Package repository implements ConversationRepository (C8): pgx-backed,
// project-scoped persistence for the Session/Conversation DAG
// (SPEC_FULL.md §4.8).
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/pgxshared"
	"github.com/acesanderson/conduit/internal/request"
	"github.com/acesanderson/conduit/internal/session"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      text PRIMARY KEY,
	project_name    text NOT NULL,
	leaf_message_id text,
	title           text,
	metadata        jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at      bigint NOT NULL,
	last_updated    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_name);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(last_updated);

CREATE TABLE IF NOT EXISTS messages (
	message_id     text PRIMARY KEY,
	session_id     text NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	predecessor_id text REFERENCES messages(message_id),
	role           text NOT NULL,
	content        jsonb NOT NULL,
	created_at     bigint NOT NULL,
	metadata       jsonb NOT NULL DEFAULT '{}'::jsonb,
	tool_calls     jsonb,
	images         jsonb,
	audio          jsonb,
	parsed         jsonb
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_predecessor ON messages(predecessor_id);
`

// Repository is a pgx-backed request.RepositoryHandle, scoped to one
// project name. Its pool is shared with internal/cache via
// internal/pgxshared when both point at the same DSN.
type Repository struct {
	pool        *pgxpool.Pool
	projectName string
}

// New opens (or reuses) the shared pool for dsn, ensures the sessions/
// messages tables exist, and returns a Repository scoped to projectName.
func New(ctx context.Context, dsn, projectName string) (*Repository, error) {
	pool, err := pgxshared.Acquire(ctx, dsn)
	if err != nil {
		return nil, conduiterr.Wrap(err, "repository: acquire pool")
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, conduiterr.Wrap(err, "repository: ensure schema")
	}
	return &Repository{pool: pool, projectName: projectName}, nil
}

// Save upserts sess (scoped to Repository's project) and its messages in
// topological order (root→leaf) so FK references resolve; message rows are
// immutable once written (ON CONFLICT DO NOTHING), per §4.8.
func (r *Repository) Save(sess *session.Session, title string) error {
	ordered, err := topologicalSort(sess.All())
	if err != nil {
		return err
	}

	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return conduiterr.Wrap(err, "repository: begin save tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (session_id, project_name, leaf_message_id, title, metadata, created_at, last_updated)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5::jsonb, $6, now())
		ON CONFLICT (session_id) DO UPDATE SET
			leaf_message_id = EXCLUDED.leaf_message_id,
			title = COALESCE(NULLIF($4, ''), sessions.title),
			project_name = EXCLUDED.project_name,
			last_updated = now()
	`, sess.ID(), r.projectName, sess.Leaf(), title, marshalMetadata(), sess.CreatedAt())
	if err != nil {
		return conduiterr.Wrap(err, "repository: upsert session")
	}

	for _, msg := range ordered {
		content, err := model.MarshalMessage(msg)
		if err != nil {
			return conduiterr.Wrap(err, "repository: encode message")
		}
		var predecessor *string
		if p := msg.PredecessorID(); p != "" {
			predecessor = &p
		}
		toolCalls, images, audio, parsed, err := convenienceColumns(msg)
		if err != nil {
			return conduiterr.Wrap(err, "repository: encode convenience columns")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (message_id, session_id, predecessor_id, role, content, created_at, tool_calls, images, audio, parsed)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb)
			ON CONFLICT (message_id) DO NOTHING
		`, msg.MessageID(), sess.ID(), predecessor, string(msg.Role()), content, msg.Timestamp(),
			toolCalls, images, audio, parsed)
		if err != nil {
			return conduiterr.Wrap(err, "repository: upsert message")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return conduiterr.Wrap(err, "repository: commit save tx")
	}
	return nil
}

// Load fetches a Session and its full message graph, scoped to this
// Repository's project.
func (r *Repository) Load(sessionID string) (*session.Session, bool, error) {
	ctx := context.Background()

	var leaf *string
	var createdAt int64
	err := r.pool.QueryRow(ctx,
		`SELECT leaf_message_id, created_at FROM sessions WHERE session_id = $1 AND project_name = $2`,
		sessionID, r.projectName,
	).Scan(&leaf, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "repository: load session")
	}

	rows, err := r.pool.Query(ctx, `SELECT content FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "repository: load messages")
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, false, conduiterr.Wrap(err, "repository: scan message")
		}
		msg, err := model.UnmarshalMessage(content)
		if err != nil {
			return nil, false, conduiterr.Wrap(err, "repository: decode message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, conduiterr.Wrap(err, "repository: iterate messages")
	}

	leafID := ""
	if leaf != nil {
		leafID = *leaf
	}
	return session.Restore(sessionID, createdAt, leafID, messages), true, nil
}

const rehydrateQuery = `
WITH RECURSIVE conversation_chain AS (
	SELECT m.message_id, m.session_id, m.predecessor_id, m.content, 1 AS depth
	FROM messages m
	JOIN sessions s ON m.session_id = s.session_id
	WHERE m.message_id = $1 AND s.project_name = $2

	UNION ALL

	SELECT p.message_id, p.session_id, p.predecessor_id, p.content, c.depth + 1
	FROM messages p
	INNER JOIN conversation_chain c ON p.message_id = c.predecessor_id
)
SELECT session_id, content FROM conversation_chain ORDER BY depth DESC
`

// RehydrateFromLeaf walks the ancestor chain from leafID back to its root
// via a recursive query, projecting the result back into chronological
// (root-first) order, then wraps it as a Conversation over the owning
// Session (§4.8).
func (r *Repository) RehydrateFromLeaf(leafID string) (*session.Conversation, bool, error) {
	ctx := context.Background()
	rows, err := r.pool.Query(ctx, rehydrateQuery, leafID, r.projectName)
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "repository: rehydrate")
	}
	defer rows.Close()

	var (
		messages  []model.Message
		sessionID string
	)
	for rows.Next() {
		var content []byte
		var sid string
		if err := rows.Scan(&sid, &content); err != nil {
			return nil, false, conduiterr.Wrap(err, "repository: scan ancestor")
		}
		msg, err := model.UnmarshalMessage(content)
		if err != nil {
			return nil, false, conduiterr.Wrap(err, "repository: decode ancestor")
		}
		sessionID = sid
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, conduiterr.Wrap(err, "repository: iterate ancestors")
	}
	if len(messages) == 0 {
		return nil, false, nil
	}

	sess, found, err := r.Load(sessionID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, conduiterr.New(conduiterr.ValidationError, "repository: owning session not found for leaf "+leafID, nil)
	}
	return session.FromSession(sess, messages), true, nil
}

// List returns session summaries for this Repository's project, most
// recently updated first.
func (r *Repository) List(limit int) ([]request.SessionSummary, error) {
	ctx := context.Background()
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, COALESCE(title, ''), last_updated
		FROM sessions
		WHERE project_name = $1
		ORDER BY last_updated DESC
		LIMIT $2
	`, r.projectName, limit)
	if err != nil {
		return nil, conduiterr.Wrap(err, "repository: list")
	}
	defer rows.Close()

	var out []request.SessionSummary
	for rows.Next() {
		var s request.SessionSummary
		var lastUpdated time.Time
		if err := rows.Scan(&s.SessionID, &s.Title, &lastUpdated); err != nil {
			return nil, conduiterr.Wrap(err, "repository: scan summary")
		}
		s.LastUpdated = lastUpdated.UnixMilli()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a session and its messages (ON DELETE CASCADE), scoped to
// this Repository's project.
func (r *Repository) Delete(sessionID string) error {
	ctx := context.Background()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE session_id = $1 AND project_name = $2`,
		sessionID, r.projectName,
	)
	if err != nil {
		return conduiterr.Wrap(err, "repository: delete")
	}
	return nil
}

// Wipe deletes every session (and cascaded message) in this Repository's
// project.
func (r *Repository) Wipe() error {
	ctx := context.Background()
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE project_name = $1`, r.projectName)
	if err != nil {
		return conduiterr.Wrap(err, "repository: wipe")
	}
	return nil
}

// topologicalSort orders messages root-first so each insert's predecessor_id
// FK already exists, via a BFS from every root (a message whose predecessor
// is absent from this batch).
func topologicalSort(messages []model.Message) ([]model.Message, error) {
	byID := make(map[string]model.Message, len(messages))
	for _, m := range messages {
		byID[m.MessageID()] = m
	}

	children := make(map[string][]string, len(messages))
	var roots []string
	for _, m := range messages {
		pid := m.PredecessorID()
		if pid != "" {
			if _, present := byID[pid]; present {
				children[pid] = append(children[pid], m.MessageID())
				continue
			}
		}
		roots = append(roots, m.MessageID())
	}

	ordered := make([]model.Message, 0, len(messages))
	visited := make(map[string]bool, len(messages))
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		ordered = append(ordered, byID[id])
		queue = append(queue, children[id]...)
	}

	// messages disconnected from any discovered root (shouldn't happen in a
	// valid DAG) still get written, appended at the end.
	if len(ordered) < len(messages) {
		for _, m := range messages {
			if !visited[m.MessageID()] {
				ordered = append(ordered, m)
			}
		}
	}
	return ordered, nil
}

var _ request.RepositoryHandle = (*Repository)(nil)

// marshalMetadata fills the sessions.metadata column. The Go API does not
// yet surface per-session arbitrary metadata, so it is always an empty
// object; the column exists for forward compatibility with §4.8's schema.
func marshalMetadata() []byte {
	data, _ := json.Marshal(map[string]any{})
	return data
}

// convenienceColumns extracts an AssistantMessage's tool_calls/images/audio/
// parsed fields into their own jsonb columns, mirroring the original
// schema's denormalized layout so external SQL can filter/index on them
// without unpacking content. content alone remains authoritative: these are
// write-only query aids, never read back by Load/RehydrateFromLeaf. Every
// other message variant writes all four as nil (SQL NULL).
func convenienceColumns(msg model.Message) (toolCalls, images, audio, parsed []byte, err error) {
	am, ok := msg.(model.AssistantMessage)
	if !ok {
		return nil, nil, nil, nil, nil
	}
	if len(am.ToolCalls) > 0 {
		if toolCalls, err = json.Marshal(am.ToolCalls); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if len(am.Images) > 0 {
		if images, err = json.Marshal(am.Images); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if am.Audio != nil {
		if audio, err = json.Marshal(am.Audio); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if am.Parsed != nil {
		if parsed, err = json.Marshal(am.Parsed); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return toolCalls, images, audio, parsed, nil
}
