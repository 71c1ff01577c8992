package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lukassw/canvashub/internal/store"
	"github.com/lukassw/canvashub/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS canvases (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	mode       TEXT NOT NULL DEFAULT 'Active',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS canvas_members (
	canvas_id    TEXT NOT NULL REFERENCES canvases(id),
	user_id      TEXT NOT NULL REFERENCES users(id),
	access_level TEXT NOT NULL,
	PRIMARY KEY (canvas_id, user_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with an already-hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	id := uuid.NewString()

	query := `
		INSERT INTO users (id, username, password_hash)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== CanvasStore implementation ====

// CreateCanvas creates a canvas and registers the owner as its first member.
func (s *SQLiteStore) CreateCanvas(ctx context.Context, name, ownerID string) (*store.Canvas, error) {
	id, err := s.newCanvasID(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canvases (id, name, owner_id, mode) VALUES (?, ?, ?, ?)`,
		id, name, ownerID, store.ModeActive,
	); err != nil {
		return nil, fmt.Errorf("insert canvas: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canvas_members (canvas_id, user_id, access_level) VALUES (?, ?, ?)`,
		id, ownerID, store.AccessOwner,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit canvas: %w", err)
	}

	return s.GetCanvas(ctx, id)
}

const maxIDAttempts = 10

func (s *SQLiteStore) newCanvasID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := utils.NewCanvasID()

		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM canvases WHERE id = ?`, id,
		).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check canvas id: %w", err)
		}
		if exists == 0 {
			return id, nil
		}
	}
	return "", errors.New("failed to generate unique canvas id")
}

// GetCanvas retrieves a canvas with its full membership table.
func (s *SQLiteStore) GetCanvas(ctx context.Context, id string) (*store.Canvas, error) {
	query := `
		SELECT id, name, owner_id, mode, created_at
		FROM canvases
		WHERE id = ?
	`
	var canvas store.Canvas
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&canvas.ID,
		&canvas.Name,
		&canvas.OwnerID,
		&canvas.Mode,
		&canvas.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query canvas: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, access_level FROM canvas_members WHERE canvas_id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	canvas.Members = make(map[string]store.AccessLevel)
	for rows.Next() {
		var userID string
		var level store.AccessLevel
		if err := rows.Scan(&userID, &level); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		canvas.Members[userID] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return &canvas, nil
}

// ListUserCanvases returns membership claims for every canvas the user can access.
func (s *SQLiteStore) ListUserCanvases(ctx context.Context, userID string) ([]store.CanvasClaim, error) {
	query := `
		SELECT c.name, c.id, m.access_level
		FROM canvas_members m
		JOIN canvases c ON c.id = m.canvas_id
		WHERE m.user_id = ?
		ORDER BY c.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user canvases: %w", err)
	}
	defer rows.Close()

	var claims []store.CanvasClaim
	for rows.Next() {
		var claim store.CanvasClaim
		if err := rows.Scan(&claim.Name, &claim.Canvas, &claim.Access); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}

	return claims, nil
}

// SetMemberAccess upserts a membership entry.
func (s *SQLiteStore) SetMemberAccess(ctx context.Context, canvasID, userID string, level store.AccessLevel) error {
	if _, err := s.GetCanvas(ctx, canvasID); err != nil {
		return err
	}

	query := `
		INSERT INTO canvas_members (canvas_id, user_id, access_level)
		VALUES (?, ?, ?)
		ON CONFLICT (canvas_id, user_id) DO UPDATE SET access_level = excluded.access_level
	`
	if _, err := s.db.ExecContext(ctx, query, canvasID, userID, level); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// SetCanvasMode replaces the canvas mode.
func (s *SQLiteStore) SetCanvasMode(ctx context.Context, canvasID string, mode store.CanvasMode) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE canvases SET mode = ? WHERE id = ?`, mode, canvasID,
	)
	if err != nil {
		return fmt.Errorf("update mode: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
