package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mkrupp/userstore/internal/domain"
	"github.com/mkrupp/userstore/internal/infra/logging"
)

// SQLiteDatabaseConfig holds configuration for the SQLite database.
type SQLiteDatabaseConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/users.db"`

	// BusyTimeout is how long a writer waits for the database lock
	BusyTimeout time.Duration `env:"BUSY_TIMEOUT" default:"5s"`
}

// SQLiteDatabase implements Database using SQLite as the storage backend.
// Each collection is a table; transactions begin with BEGIN IMMEDIATE so
// concurrent writers serialize on the database lock.
type SQLiteDatabase struct {
	db     *sql.DB
	log    logging.Logger
	tables map[string]struct{}
	m      sync.Mutex
}

var _ Database = (*SQLiteDatabase)(nil)

// SQLiteDatabaseFactory creates a factory function that returns a new SQLiteDatabase.
// The factory function implements the DatabaseFactory type.
func SQLiteDatabaseFactory(cfg SQLiteDatabaseConfig) DatabaseFactory {
	return func() (Database, error) {
		return NewSQLiteDatabase(cfg)
	}
}

// NewSQLiteDatabase opens the SQLite database described by cfg.
// Parent directories of the database file are created if needed.
// Returns an error if the database cannot be opened.
func NewSQLiteDatabase(cfg SQLiteDatabaseConfig) (*SQLiteDatabase, error) {
	log := logging.GetLogger("repo.user.sqlite_collection").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteDatabase{
		db:     db,
		log:    log,
		tables: make(map[string]struct{}),
	}, nil
}

// sqliteDSN applies pragmas through the DSN so every pooled connection gets them.
func sqliteDSN(cfg SQLiteDatabaseConfig) string {
	return fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.DatabasePath,
		cfg.BusyTimeout.Milliseconds(),
	)
}

// Collection implements Database.Collection. The table and its username index
// are created on first use.
func (d *SQLiteDatabase) Collection(ctx context.Context, name string) (Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	d.m.Lock()
	defer d.m.Unlock()

	if _, ok := d.tables[name]; !ok {
		if err := createTable(ctx, d.db, name); err != nil {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}

		d.tables[name] = struct{}{}
		d.log.DebugContext(ctx, "collection ready", "collection", name)
	}

	return &sqliteCollection{
		name: name,
		db:   d.db,
		q:    d.db,
		log:  d.log.With("collection", name),
	}, nil
}

// Close implements Database.Close by closing the database connection.
func (d *SQLiteDatabase) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

func createTable(ctx context.Context, db *sql.DB, name string) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]q (
			id         TEXT    PRIMARY KEY,
			username   TEXT    NOT NULL,
			auth_data  TEXT    NOT NULL,
			user_data  TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`, name)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (username)`,
		name+"_username", name,
	)); err != nil {
		return fmt.Errorf("create username index: %w", err)
	}

	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteCollection implements Collection on one table. db is nil when the
// collection is bound to a running transaction.
type sqliteCollection struct {
	name string
	db   *sql.DB
	q    querier
	log  logging.Logger
}

var _ Collection = (*sqliteCollection)(nil)

func (c *sqliteCollection) Name() string {
	return c.name
}

// FirstByUsername implements Collection.FirstByUsername using SQLite.
func (c *sqliteCollection) FirstByUsername(ctx context.Context, username string) (*domain.User, bool, error) {
	user, err := c.scanOne(c.q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, username, auth_data, user_data, created_at, updated_at FROM %q WHERE username = ? LIMIT 1",
		c.name,
	), username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("query user by username: %w", err)
	}

	return user, true, nil
}

// ByID implements Collection.ByID using SQLite.
func (c *sqliteCollection) ByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := c.scanOne(c.q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, username, auth_data, user_data, created_at, updated_at FROM %q WHERE id = ?",
		c.name,
	), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.Join(ErrDocumentNotFound, err)
		}

		return nil, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// All implements Collection.All using SQLite.
func (c *sqliteCollection) All(ctx context.Context) (_ []*domain.User, err error) {
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, username, auth_data, user_data, created_at, updated_at FROM %q ORDER BY id",
		c.name,
	))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	var users []*domain.User

	for rows.Next() {
		user, err := c.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}

		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// Insert implements Collection.Insert using SQLite.
func (c *sqliteCollection) Insert(ctx context.Context, user *domain.User) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	authData, userData, err := encodePayloads(user)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()

	_, err = c.q.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %q (id, username, auth_data, user_data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		c.name,
	), id.String(), user.Username, authData, userData, now, now)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				fallthrough
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				err = errors.Join(ErrUniqueViolation, err)
			default:
				break
			}
		}

		return "", fmt.Errorf("insert user: %w", err)
	}

	return id.String(), nil
}

// Replace implements Collection.Replace using SQLite.
func (c *sqliteCollection) Replace(ctx context.Context, user *domain.User) error {
	authData, userData, err := encodePayloads(user)
	if err != nil {
		return err
	}

	result, err := c.q.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %q SET auth_data = ?, user_data = ?, updated_at = ? WHERE id = ?",
		c.name,
	), authData, userData, time.Now().Unix(), user.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	return checkAffected(result)
}

// RemoveByID implements Collection.RemoveByID using SQLite.
func (c *sqliteCollection) RemoveByID(ctx context.Context, id string) error {
	result, err := c.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q WHERE id = ?", c.name), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	return checkAffected(result)
}

// Transaction implements Collection.Transaction using an IMMEDIATE SQLite transaction.
func (c *sqliteCollection) Transaction(ctx context.Context, fn func(tx Collection) error) (err error) {
	if c.db == nil {
		return fn(c)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			c.log.WarnContext(ctx, "rollback failed", "error", rerr)
		}
	}()

	if err := fn(&sqliteCollection{name: c.name, q: tx, log: c.log}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *sqliteCollection) scanOne(row rowScanner) (*domain.User, error) {
	var (
		user               domain.User
		authData, userData string
	)

	if err := row.Scan(&user.ID, &user.Username, &authData, &userData, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}

	var err error

	if user.AuthData, err = domain.DecodeData([]byte(authData)); err != nil {
		return nil, fmt.Errorf("decode auth data of %s: %w", user.ID, err)
	}

	if user.UserData, err = domain.DecodeData([]byte(userData)); err != nil {
		return nil, fmt.Errorf("decode user data of %s: %w", user.ID, err)
	}

	return &user, nil
}

// encodePayloads normalizes and encodes both payloads, so every stored number reads back exactly.
func encodePayloads(user *domain.User) (authData, userData string, err error) {
	auth, err := encodePayload(user.AuthData)
	if err != nil {
		return "", "", fmt.Errorf("encode auth data: %w", err)
	}

	data, err := encodePayload(user.UserData)
	if err != nil {
		return "", "", fmt.Errorf("encode user data: %w", err)
	}

	return auth, data, nil
}

func encodePayload(payload map[string]any) (string, error) {
	normalized, err := domain.NormalizeData(payload)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return string(raw), nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ErrDocumentNotFound
	}

	return nil
}
