package store

import (
	"database/sql"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/session"
)

// UpsertProject inserts the project or refreshes its display name on
// conflict. Returns the stored row.
func (s *Store) UpsertProject(p session.Project) (session.Project, error) {
	const op = apperrors.Op("store.UpsertProject")

	_, err := s.writer.Exec(`
		INSERT INTO project (id, path, display_name, is_favorite, created_at, updated_at, last_opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = 0`,
		p.ID, p.Path, nullable(p.DisplayName), boolInt(p.IsFavorite), p.CreatedAt, p.UpdatedAt, nullableInt(p.LastOpenedAt))
	if err != nil {
		return session.Project{}, apperrors.E(op, apperrors.KindData, err)
	}
	return s.GetProjectByPath(p.Path)
}

// GetProjectByPath loads one project by repository path.
func (s *Store) GetProjectByPath(path string) (session.Project, error) {
	const op = apperrors.Op("store.GetProjectByPath")

	row := s.reader.QueryRow(`
		SELECT id, path, display_name, is_favorite, created_at, updated_at, last_opened_at
		FROM project WHERE path = ?`, path)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return session.Project{}, apperrors.E(op, apperrors.KindNotFound, path, err)
	}
	if err != nil {
		return session.Project{}, apperrors.E(op, apperrors.KindData, err)
	}
	return p, nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(projectID string) (session.Project, error) {
	const op = apperrors.Op("store.GetProject")

	row := s.reader.QueryRow(`
		SELECT id, path, display_name, is_favorite, created_at, updated_at, last_opened_at
		FROM project WHERE id = ?`, projectID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return session.Project{}, apperrors.E(op, apperrors.KindNotFound, projectID, err)
	}
	if err != nil {
		return session.Project{}, apperrors.E(op, apperrors.KindData, err)
	}
	return p, nil
}

// ListProjects returns all projects, favorites first, then most recently
// opened.
func (s *Store) ListProjects() ([]session.Project, error) {
	const op = apperrors.Op("store.ListProjects")

	rows, err := s.reader.Query(`
		SELECT id, path, display_name, is_favorite, created_at, updated_at, last_opened_at
		FROM project
		ORDER BY is_favorite DESC, COALESCE(last_opened_at, 0) DESC, path`)
	if err != nil {
		return nil, apperrors.E(op, apperrors.KindData, err)
	}
	defer rows.Close()

	var projects []session.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperrors.E(op, apperrors.KindData, err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// TouchProjectOpened records that the project was just opened.
func (s *Store) TouchProjectOpened(projectID string) error {
	const op = apperrors.Op("store.TouchProjectOpened")

	_, err := s.writer.Exec(`
		UPDATE project SET last_opened_at = strftime('%s','now'), updated_at = 0
		WHERE id = ?`, projectID)
	if err != nil {
		return apperrors.E(op, apperrors.KindData, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (session.Project, error) {
	var p session.Project
	var displayName sql.NullString
	var lastOpened sql.NullInt64
	var fav int
	err := r.Scan(&p.ID, &p.Path, &displayName, &fav, &p.CreatedAt, &p.UpdatedAt, &lastOpened)
	if err != nil {
		return p, err
	}
	p.DisplayName = displayName.String
	p.LastOpenedAt = lastOpened.Int64
	p.IsFavorite = fav != 0
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
