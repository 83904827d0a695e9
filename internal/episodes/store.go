package episodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

// Store is the SQLite-backed EpisodeStore.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type episodeRow struct {
	domain.Episode
	IndustryTagsJSON  string `db:"industry_tags_json"`
	EpisodeThemesJSON string `db:"episode_themes_json"`
	UpdatedAt         int64  `db:"updated_at"`
}

func toRow(ep domain.Episode, now int64) (episodeRow, error) {
	tags, err := json.Marshal(nonNil(ep.IndustryTags))
	if err != nil {
		return episodeRow{}, err
	}
	themes, err := json.Marshal(nonNil(ep.EpisodeThemes))
	if err != nil {
		return episodeRow{}, err
	}
	return episodeRow{Episode: ep, IndustryTagsJSON: string(tags), EpisodeThemesJSON: string(themes), UpdatedAt: now}, nil
}

func (r episodeRow) toEpisode() (domain.Episode, error) {
	ep := r.Episode
	if err := json.Unmarshal([]byte(r.IndustryTagsJSON), &ep.IndustryTags); err != nil {
		return ep, fmt.Errorf("episode %s: industry tags: %w", ep.ID, err)
	}
	if err := json.Unmarshal([]byte(r.EpisodeThemesJSON), &ep.EpisodeThemes); err != nil {
		return ep, fmt.Errorf("episode %s: themes: %w", ep.ID, err)
	}
	return ep, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const upsertEpisode = `
INSERT INTO episodes (id, guest, guest_expertise, industry_tags_json, episode_themes_json, youtube_url, date, transcript, summary, updated_at)
VALUES (:id, :guest, :guest_expertise, :industry_tags_json, :episode_themes_json, :youtube_url, :date, :transcript, :summary, :updated_at)
ON CONFLICT(id) DO UPDATE SET
  guest = excluded.guest,
  guest_expertise = excluded.guest_expertise,
  industry_tags_json = excluded.industry_tags_json,
  episode_themes_json = excluded.episode_themes_json,
  youtube_url = excluded.youtube_url,
  date = excluded.date,
  transcript = excluded.transcript,
  summary = excluded.summary,
  updated_at = excluded.updated_at`

// SaveEpisodes inserts or replaces episodes in one transaction.
func (s *Store) SaveEpisodes(ctx context.Context, episodes []domain.Episode) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, ep := range episodes {
		row, err := toRow(ep, now)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertEpisode, row); err != nil {
			return fmt.Errorf("save episode %s: %w", ep.ID, err)
		}
	}
	return tx.Commit()
}

const selectEpisodes = `SELECT id, guest, guest_expertise, industry_tags_json, episode_themes_json,
youtube_url, date, transcript, summary, updated_at FROM episodes`

func (s *Store) ListEpisodes(ctx context.Context) ([]domain.Episode, error) {
	var rows []episodeRow
	if err := s.db.SelectContext(ctx, &rows, selectEpisodes+" ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	out := make([]domain.Episode, 0, len(rows))
	for _, r := range rows {
		ep, err := r.toEpisode()
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func (s *Store) GetEpisode(ctx context.Context, id string) (*domain.Episode, error) {
	var row episodeRow
	err := s.db.GetContext(ctx, &row, selectEpisodes+" WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.NewNotFound("episode", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %s: %w", id, err)
	}
	ep, err := row.toEpisode()
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// GuestCount is one row of Guests.
type GuestCount struct {
	Guest    string `db:"guest" json:"guest"`
	Episodes int    `db:"episodes" json:"episodes"`
}

// Guests lists every guest with their episode count, by name.
func (s *Store) Guests(ctx context.Context) ([]GuestCount, error) {
	var out []GuestCount
	err := s.db.SelectContext(ctx, &out, "SELECT guest, COUNT(*) AS episodes FROM episodes GROUP BY guest ORDER BY guest")
	if err != nil {
		return nil, fmt.Errorf("list guests: %w", err)
	}
	return out, nil
}
