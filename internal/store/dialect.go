package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

type dialect struct {
	name       string
	migrations []string
}

var dialects = map[string]dialect{
	"postgres": {
		name: "postgres",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS secret_types (
	id VARCHAR(36) PRIMARY KEY,
	owner VARCHAR(255) NOT NULL,
	name VARCHAR(100) NOT NULL,
	fields_schema TEXT NOT NULL,
	schema_hash CHAR(64) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS secret_types_owner_hash_idx ON secret_types (owner, schema_hash)`,
			`CREATE TABLE IF NOT EXISTS secrets (
	id VARCHAR(36) PRIMARY KEY,
	owner VARCHAR(255) NOT NULL,
	type_id VARCHAR(36) NOT NULL REFERENCES secret_types (id) ON DELETE RESTRICT,
	name VARCHAR(100) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS secrets_owner_type_idx ON secrets (owner, type_id)`,
		},
	},
	"mysql": {
		name: "mysql",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS secret_types (
	id VARCHAR(36) PRIMARY KEY,
	owner VARCHAR(255) NOT NULL,
	name VARCHAR(100) NOT NULL,
	fields_schema TEXT NOT NULL,
	schema_hash CHAR(64) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	INDEX secret_types_owner_hash_idx (owner, schema_hash)
)`,
			`CREATE TABLE IF NOT EXISTS secrets (
	id VARCHAR(36) PRIMARY KEY,
	owner VARCHAR(255) NOT NULL,
	type_id VARCHAR(36) NOT NULL,
	name VARCHAR(100) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	INDEX secrets_owner_type_idx (owner, type_id),
	CONSTRAINT secrets_type_fk FOREIGN KEY (type_id) REFERENCES secret_types (id) ON DELETE RESTRICT
)`,
		},
	},
}

// driverAliases maps configuration names to database/sql driver names. Both
// drivers register themselves through the imports above.
var driverAliases = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

func lookupDialect(driver string) (dialect, error) {
	name, ok := driverAliases[strings.ToLower(driver)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
	return dialects[name], nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isForeignKeyViolation reports whether err is a referential integrity
// failure from either supported driver.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1451 || myErr.Number == 1452
	}
	return false
}
