package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sip/config"
	"sip/core"
)

// LookupStorage provides CRUD for the supporting entities: the simple value
// tables, campaigns, intel references, and users.
type LookupStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewLookupStorage(sqlite *SQLite, logger *zap.SugaredLogger) *LookupStorage {
	return &LookupStorage{sqlite: sqlite, logger: logger}
}

func lookupTable(kind core.LookupKind) (string, error) {
	table, ok := lookupTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown lookup kind: %s", kind)
	}
	return table, nil
}

// CreateValue inserts a row into one of the simple value tables.
func (s *LookupStorage) CreateValue(ctx context.Context, kind core.LookupKind, value string) (*core.LookupValue, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	lv := &core.LookupValue{Value: value}
	err = s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (value) VALUES (?)", table), value)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("%s already exists: %s", kind, value))
			}
			return fmt.Errorf("failed to create %s: %w", kind, err)
		}
		lv.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return lv, nil
}

// GetValue returns one row of a simple value table by id.
func (s *LookupStorage) GetValue(ctx context.Context, kind core.LookupKind, id int64) (*core.LookupValue, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	lv := &core.LookupValue{}
	err = s.sqlite.ReadDB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, value FROM %s WHERE id = ?", table), id).Scan(&lv.ID, &lv.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(kind, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return lv, nil
}

// ListValues returns all rows of a simple value table ordered by value.
func (s *LookupStorage) ListValues(ctx context.Context, kind core.LookupKind) ([]core.LookupValue, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		fmt.Sprintf("SELECT id, value FROM %s ORDER BY value", table))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	values := []core.LookupValue{}
	for rows.Next() {
		var lv core.LookupValue
		if err := rows.Scan(&lv.ID, &lv.Value); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		values = append(values, lv)
	}
	return values, rows.Err()
}

// UpdateValue renames a row of a simple value table.
func (s *LookupStorage) UpdateValue(ctx context.Context, kind core.LookupKind, id int64, value string) (*core.LookupValue, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	err = s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET value = ? WHERE id = ?", table), value, id)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("%s already exists: %s", kind, value))
			}
			return fmt.Errorf("failed to update %s: %w", kind, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(kind, strconv.FormatInt(id, 10))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &core.LookupValue{ID: id, Value: value}, nil
}

// DeleteValue deletes a row of a simple value table. Rows still referenced by
// indicators or references are protected by foreign keys.
func (s *LookupStorage) DeleteValue(ctx context.Context, kind core.LookupKind, id int64) error {
	table, err := lookupTable(kind)
	if err != nil {
		return err
	}

	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewConflictError(fmt.Sprintf("unable to delete %s due to foreign key constraints", kind))
			}
			return fmt.Errorf("failed to delete %s: %w", kind, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(kind, strconv.FormatInt(id, 10))
		}
		return nil
	})
}

// CreateCampaign creates a named campaign.
func (s *LookupStorage) CreateCampaign(ctx context.Context, name string) (*core.Campaign, error) {
	now := nowUTC()
	c := &core.Campaign{Name: name, CreatedTime: now, ModifiedTime: now}
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO campaigns (name, created_time, modified_time) VALUES (?, ?, ?)",
			name, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("campaign already exists: %s", name))
			}
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *LookupStorage) GetCampaign(ctx context.Context, id int64) (*core.Campaign, error) {
	c := &core.Campaign{}
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		"SELECT id, name, created_time, modified_time FROM campaigns WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.CreatedTime, &c.ModifiedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(core.KindCampaign, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

func (s *LookupStorage) ListCampaigns(ctx context.Context) ([]core.Campaign, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		"SELECT id, name, created_time, modified_time FROM campaigns ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []core.Campaign{}
	for rows.Next() {
		var c core.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedTime, &c.ModifiedTime); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaign renames a campaign and bumps its modified time.
func (s *LookupStorage) UpdateCampaign(ctx context.Context, id int64, name string) (*core.Campaign, error) {
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE campaigns SET name = ?, modified_time = ? WHERE id = ?",
			name, nowUTC(), id)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("campaign already exists: %s", name))
			}
			return fmt.Errorf("failed to update campaign: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindCampaign, strconv.FormatInt(id, 10))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetCampaign(ctx, id)
}

func (s *LookupStorage) DeleteCampaign(ctx context.Context, id int64) error {
	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM campaigns WHERE id = ?", id)
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewConflictError("unable to delete campaign due to foreign key constraints")
			}
			return fmt.Errorf("failed to delete campaign: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindCampaign, strconv.FormatInt(id, 10))
		}
		return nil
	})
}

// CreateIntelReference creates a reference under an existing source,
// attributed to the authenticated user. Unknown sources are not auto-created
// through this path.
func (s *LookupStorage) CreateIntelReference(ctx context.Context, spec core.ReferenceSpec, username, apiKey string) (*core.IntelReference, error) {
	ref := &core.IntelReference{Reference: spec.Reference, Source: spec.Source}
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var sourceID int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM intel_sources WHERE value = ?", spec.Source).Scan(&sourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFoundError(core.KindIntelSource, spec.Source)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve intel source: %w", err)
		}

		r := newResolver(tx, config.AutoCreate{})
		user, err := r.user(ctx, username, apiKey)
		if err != nil {
			return err
		}
		if !user.Active {
			return core.NewUnauthorizedError("cannot create a reference with an inactive user")
		}
		ref.User = user.Username

		res, err := tx.ExecContext(ctx,
			"INSERT INTO intel_references (reference, intel_source_id, user_id) VALUES (?, ?, ?)",
			spec.Reference, sourceID, user.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("intel reference already exists: %s", spec.Reference))
			}
			return fmt.Errorf("failed to create intel reference: %w", err)
		}
		ref.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *LookupStorage) GetIntelReference(ctx context.Context, id int64) (*core.IntelReference, error) {
	ref := &core.IntelReference{}
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT r.id, r.reference, s.value, u.username
		FROM intel_references r
		JOIN intel_sources s ON r.intel_source_id = s.id
		JOIN users u ON r.user_id = u.id
		WHERE r.id = ?`, id).Scan(&ref.ID, &ref.Reference, &ref.Source, &ref.User)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(core.KindIntelReference, strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intel reference: %w", err)
	}
	return ref, nil
}

func (s *LookupStorage) ListIntelReferences(ctx context.Context) ([]core.IntelReference, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT r.id, r.reference, s.value, u.username
		FROM intel_references r
		JOIN intel_sources s ON r.intel_source_id = s.id
		JOIN users u ON r.user_id = u.id
		ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list intel references: %w", err)
	}
	defer rows.Close()

	refs := []core.IntelReference{}
	for rows.Next() {
		var ref core.IntelReference
		if err := rows.Scan(&ref.ID, &ref.Reference, &ref.Source, &ref.User); err != nil {
			return nil, fmt.Errorf("failed to scan intel reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteIntelReference deletes a reference. References still attached to
// indicators are protected by the association foreign key.
func (s *LookupStorage) DeleteIntelReference(ctx context.Context, id int64) error {
	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM intel_references WHERE id = ?", id)
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewConflictError("unable to delete intel reference due to foreign key constraints")
			}
			return fmt.Errorf("failed to delete intel reference: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindIntelReference, strconv.FormatInt(id, 10))
		}
		return nil
	})
}

// CreateUser creates an active user with a generated API key.
func (s *LookupStorage) CreateUser(ctx context.Context, username string) (*core.User, error) {
	u := &core.User{Username: username, APIKey: uuid.NewString(), Active: true}
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users (username, apikey, active) VALUES (?, ?, 1)",
			username, u.APIKey)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewConflictError(fmt.Sprintf("user already exists: %s", username))
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		u.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *LookupStorage) GetUser(ctx context.Context, username string) (*core.User, error) {
	u := &core.User{}
	var active int
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		"SELECT id, username, apikey, active FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.APIKey, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(core.KindUser, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Active = active != 0
	return u, nil
}

// GetUserByAPIKey resolves an API key to its user. An unknown key is an
// authentication failure, not a lookup miss.
func (s *LookupStorage) GetUserByAPIKey(ctx context.Context, apiKey string) (*core.User, error) {
	u := &core.User{}
	var active int
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		"SELECT id, username, apikey, active FROM users WHERE apikey = ?", apiKey).
		Scan(&u.ID, &u.Username, &u.APIKey, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewUnauthorizedError("unknown api key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	u.Active = active != 0
	return u, nil
}

func (s *LookupStorage) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		"SELECT id, username, apikey, active FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []core.User{}
	for rows.Next() {
		var u core.User
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.APIKey, &active); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Active = active != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive toggles whether a user may author indicators and references.
func (s *LookupStorage) SetUserActive(ctx context.Context, username string, active bool) error {
	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET active = ? WHERE username = ?", active, username)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindUser, username)
		}
		return nil
	})
}

// DeleteUser deletes a user. Users who have authored indicators or
// references are protected by foreign keys.
func (s *LookupStorage) DeleteUser(ctx context.Context, username string) error {
	return s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewConflictError("unable to delete user due to foreign key constraints")
			}
			return fmt.Errorf("failed to delete user: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.NewNotFoundError(core.KindUser, username)
		}
		return nil
	})
}
