package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/pkg/catalog"
	"github.com/systmms/seccat/pkg/secrettype"
)

// SQLStore persists metadata in PostgreSQL or MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logging.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) SQLOption {
	return func(s *SQLStore) {
		s.logger = l
	}
}

// OpenSQL opens a connection pool for driver and dsn. MySQL DSNs must set
// parseTime=true.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewSQLStore(db, driver, opts...)
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB, driver string, opts ...SQLOption) (*SQLStore, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the catalog tables if they are missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range s.dialect.migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	s.logger.Debug("Applied %d %s migrations", len(s.dialect.migrations), s.dialect.name)
	return nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const typeColumns = "id, owner, name, fields_schema, schema_hash, created_at, updated_at"

// CreateType implements secrettype.Store.
func (s *SQLStore) CreateType(ctx context.Context, t *secrettype.SecretType) error {
	query := s.dialect.rebind("INSERT INTO secret_types (" + typeColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Owner, t.Name, string(t.FieldsSchema), t.SchemaHash, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert secret type: %w", err)
	}
	return nil
}

// GetType implements secrettype.Store.
func (s *SQLStore) GetType(ctx context.Context, id string) (*secrettype.SecretType, error) {
	query := s.dialect.rebind("SELECT " + typeColumns + " FROM secret_types WHERE id = ?")
	t, err := scanType(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, secrettype.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query secret type: %w", err)
	}
	return t, nil
}

// ListTypes implements secrettype.Store.
func (s *SQLStore) ListTypes(ctx context.Context, owners ...string) ([]*secrettype.SecretType, error) {
	if len(owners) == 0 {
		return []*secrettype.SecretType{}, nil
	}
	query := s.dialect.rebind("SELECT " + typeColumns + " FROM secret_types WHERE owner IN (" +
		placeholders(len(owners)) + ") ORDER BY name, id")
	return s.queryTypes(ctx, query, stringArgs(owners)...)
}

// FindTypesByHash implements secrettype.Store.
func (s *SQLStore) FindTypesByHash(ctx context.Context, hash string, owners ...string) ([]*secrettype.SecretType, error) {
	if len(owners) == 0 {
		return []*secrettype.SecretType{}, nil
	}
	query := s.dialect.rebind("SELECT " + typeColumns + " FROM secret_types WHERE schema_hash = ? AND owner IN (" +
		placeholders(len(owners)) + ") ORDER BY name, id")
	args := append([]interface{}{hash}, stringArgs(owners)...)
	return s.queryTypes(ctx, query, args...)
}

func (s *SQLStore) queryTypes(ctx context.Context, query string, args ...interface{}) ([]*secrettype.SecretType, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query secret types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*secrettype.SecretType, 0)
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret type: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secret types: %w", err)
	}
	return out, nil
}

// DeleteType implements secrettype.Store.
func (s *SQLStore) DeleteType(ctx context.Context, id string) error {
	query := s.dialect.rebind("DELETE FROM secret_types WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return secrettype.ErrInUse
		}
		return fmt.Errorf("failed to delete secret type: %w", err)
	}
	return requireOneRow(res, secrettype.ErrNotFound)
}

const secretColumns = "id, owner, type_id, name, created_at, updated_at"

// CreateSecret implements catalog.Store.
func (s *SQLStore) CreateSecret(ctx context.Context, sec *catalog.Secret) error {
	query := s.dialect.rebind("INSERT INTO secrets (" + secretColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query,
		sec.ID, sec.Owner, sec.TypeID, sec.Name, sec.CreatedAt, sec.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return catalog.ErrTypeNotFound
		}
		return fmt.Errorf("failed to insert secret: %w", err)
	}
	return nil
}

// GetSecret implements catalog.Store.
func (s *SQLStore) GetSecret(ctx context.Context, id string) (*catalog.Secret, error) {
	query := s.dialect.rebind("SELECT " + secretColumns + " FROM secrets WHERE id = ?")
	sec, err := scanSecret(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query secret: %w", err)
	}
	return sec, nil
}

// ListSecrets implements catalog.Store.
func (s *SQLStore) ListSecrets(ctx context.Context, owner, typeID string) ([]*catalog.Secret, error) {
	query := "SELECT " + secretColumns + " FROM secrets WHERE owner = ?"
	args := []interface{}{owner}
	if typeID != "" {
		query += " AND type_id = ?"
		args = append(args, typeID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query secrets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*catalog.Secret, 0)
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	return out, nil
}

// UpdateSecret implements catalog.Store.
func (s *SQLStore) UpdateSecret(ctx context.Context, sec *catalog.Secret) error {
	query := s.dialect.rebind("UPDATE secrets SET name = ?, updated_at = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, sec.Name, sec.UpdatedAt, sec.ID)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	return requireOneRow(res, catalog.ErrNotFound)
}

// DeleteSecret implements catalog.Store.
func (s *SQLStore) DeleteSecret(ctx context.Context, id string) error {
	query := s.dialect.rebind("DELETE FROM secrets WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return requireOneRow(res, catalog.ErrNotFound)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanType(row scanner) (*secrettype.SecretType, error) {
	var (
		t      secrettype.SecretType
		schema string
	)
	if err := row.Scan(&t.ID, &t.Owner, &t.Name, &schema, &t.SchemaHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.FieldsSchema = json.RawMessage(schema)
	return &t, nil
}

func scanSecret(row scanner) (*catalog.Secret, error) {
	var sec catalog.Secret
	if err := row.Scan(&sec.ID, &sec.Owner, &sec.TypeID, &sec.Name, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func stringArgs(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
