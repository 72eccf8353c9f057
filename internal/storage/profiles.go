package storage

import (
	"context"
	"database/sql"
	"errors"

	"launchq/internal/models"
)

func (s *Storage) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var (
		p                      models.Profile
		loaderVersion, gameDir sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, game_version, loader, loader_version, game_dir FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.GameVersion, &p.Loader, &loaderVersion, &gameDir)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	p.LoaderVersion = loaderVersion.String
	p.GameDir = gameDir.String
	return p, nil
}

func (s *Storage) SaveProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, game_version, loader, loader_version, game_dir)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
           name = excluded.name,
           game_version = excluded.game_version,
           loader = excluded.loader,
           loader_version = excluded.loader_version,
           game_dir = excluded.game_dir`,
		p.ID, p.Name, p.GameVersion, p.Loader, nullString(p.LoaderVersion), nullString(p.GameDir),
	)
	return err
}

func (s *Storage) ListProfileContent(ctx context.Context, profileID string) ([]models.ProfileContent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, project_id, version_id, hash, filename, content_type, size
       FROM profile_content WHERE profile_id = ? ORDER BY filename`, profileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ProfileContent{}
	for rows.Next() {
		var (
			c       models.ProfileContent
			typeStr string
		)
		if err := rows.Scan(&c.ProfileID, &c.ProjectID, &c.VersionID, &c.Hash, &c.Filename, &typeStr, &c.Size); err != nil {
			return nil, err
		}
		if c.Type, err = models.ParseContentType(typeStr); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsInstalled reports whether the project is recorded on the profile.
func (s *Storage) IsInstalled(ctx context.Context, profileID, projectID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profile_content WHERE profile_id = ? AND project_id = ?`,
		profileID, projectID,
	).Scan(&n)
	return n > 0, err
}

// AddProfileContent records content in a single transaction, replacing
// earlier versions of the same project.
func (s *Storage) AddProfileContent(ctx context.Context, content []models.ProfileContent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range content {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_content (profile_id, project_id, version_id, hash, filename, content_type, size)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (profile_id, project_id) DO UPDATE SET
               version_id = excluded.version_id,
               hash = excluded.hash,
               filename = excluded.filename,
               content_type = excluded.content_type,
               size = excluded.size`,
			c.ProfileID, c.ProjectID, c.VersionID, c.Hash, c.Filename, string(c.Type), c.Size,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RevertProfileContent undoes AddProfileContent for rows that still hold
// the added version, putting back the row each one replaced, if any. Rows
// already overwritten by a later install are left alone.
func (s *Storage) RevertProfileContent(ctx context.Context, added, previous []models.ProfileContent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	before := make(map[string]models.ProfileContent, len(previous))
	for _, c := range previous {
		before[c.ProfileID+"/"+c.ProjectID] = c
	}

	for _, c := range added {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM profile_content
             WHERE profile_id = ? AND project_id = ? AND version_id = ? AND filename = ?`,
			c.ProfileID, c.ProjectID, c.VersionID, c.Filename,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		prev, ok := before[c.ProfileID+"/"+c.ProjectID]
		if n == 0 || !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_content (profile_id, project_id, version_id, hash, filename, content_type, size)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			prev.ProfileID, prev.ProjectID, prev.VersionID, prev.Hash, prev.Filename, string(prev.Type), prev.Size,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
