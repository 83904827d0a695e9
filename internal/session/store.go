// Package session persists conversations so a chat can be resumed later.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"podcastrag/internal/conversation"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

// Session is a stored conversation.
type Session struct {
	ID        string                     `json:"id"`
	Turns     []domain.Message           `json:"turns"`
	Context   domain.ConversationContext `json:"context"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Summary describes a session without its turns.
type Summary struct {
	ID            string    `db:"id" json:"id"`
	Turns         int       `db:"turns" json:"turns"`
	FirstQuestion string    `db:"first_question" json:"first_question"`
	UpdatedAt     time.Time `db:"-" json:"updated_at"`
	UpdatedUnix   int64     `db:"updated_at" json:"-"`
}

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewID returns a fresh, time-ordered session id.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidID reports whether id looks like a session id.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

type sessionRow struct {
	ID               string `db:"id"`
	ActiveGuestsJSON string `db:"active_guests_json"`
	RecentTopicsJSON string `db:"recent_topics_json"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

type turnRow struct {
	SessionID string      `db:"session_id"`
	Seq       int         `db:"seq"`
	Role      domain.Role `db:"role"`
	Content   string      `db:"content"`
}

// Save replaces the stored turns and context of session id, creating it if needed.
func (s *Store) Save(ctx context.Context, id string, turns []domain.Message, cc domain.ConversationContext) error {
	guests, err := json.Marshal(nonNil(cc.ActiveGuests))
	if err != nil {
		return err
	}
	topics, err := json.Marshal(nonNil(cc.RecentTopics))
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO sessions (id, active_guests_json, recent_topics_json, created_at, updated_at)
		VALUES (:id, :active_guests_json, :recent_topics_json, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
		  active_guests_json = excluded.active_guests_json,
		  recent_topics_json = excluded.recent_topics_json,
		  updated_at = excluded.updated_at`,
		sessionRow{ID: id, ActiveGuestsJSON: string(guests), RecentTopicsJSON: string(topics), CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("reset turns of %s: %w", id, err)
	}
	for i, m := range turns {
		_, err := tx.NamedExecContext(ctx,
			"INSERT INTO turns (session_id, seq, role, content) VALUES (:session_id, :seq, :role, :content)",
			turnRow{SessionID: id, Seq: i, Role: m.Role, Content: m.Content})
		if err != nil {
			return fmt.Errorf("save turn %d of %s: %w", i, id, err)
		}
	}
	return tx.Commit()
}

// SaveState stores the turns and context of state under id.
func (s *Store) SaveState(ctx context.Context, id string, state *conversation.State) error {
	return s.Save(ctx, id, state.History(), state.Snapshot())
}

func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, active_guests_json, recent_topics_json, created_at, updated_at FROM sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var turns []turnRow
	if err := s.db.SelectContext(ctx, &turns,
		"SELECT session_id, seq, role, content FROM turns WHERE session_id = ? ORDER BY seq", id); err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", id, err)
	}

	sess := &Session{
		ID:        row.ID,
		Turns:     make([]domain.Message, 0, len(turns)),
		CreatedAt: time.UnixMilli(row.CreatedAt),
		UpdatedAt: time.UnixMilli(row.UpdatedAt),
	}
	for _, t := range turns {
		sess.Turns = append(sess.Turns, domain.Message{Role: t.Role, Content: t.Content})
	}
	if err := json.Unmarshal([]byte(row.ActiveGuestsJSON), &sess.Context.ActiveGuests); err != nil {
		return nil, fmt.Errorf("session %s: guests: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.RecentTopicsJSON), &sess.Context.RecentTopics); err != nil {
		return nil, fmt.Errorf("session %s: topics: %w", id, err)
	}
	return sess, nil
}

// LoadInto restores session id into state. A missing session leaves state empty.
func (s *Store) LoadInto(ctx context.Context, id string, state *conversation.State) error {
	sess, err := s.Load(ctx, id)
	if rerrors.Is(err, rerrors.ErrNotFound) {
		state.Clear()
		return nil
	}
	if err != nil {
		return err
	}
	state.Restore(sess.Turns, sess.Context)
	return nil
}

// List returns the most recently updated sessions first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Summary
	err := s.db.SelectContext(ctx, &out, `
		SELECT s.id, s.updated_at,
		  (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id) AS turns,
		  COALESCE((SELECT content FROM turns t WHERE t.session_id = s.id AND t.role = 'user' ORDER BY seq LIMIT 1), '') AS first_question
		FROM sessions s
		ORDER BY s.updated_at DESC, s.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for i := range out {
		out[i].UpdatedAt = time.UnixMilli(out[i].UpdatedUnix)
	}
	return out, nil
}

// Latest returns the id of the most recently updated session, or "" when there is none.
func (s *Store) Latest(ctx context.Context) (string, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return "", err
	}
	return list[0].ID, nil
}

// Delete removes a session and its turns. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
