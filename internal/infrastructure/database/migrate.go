package database

import (
	"embed"
	stderrors "errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens a migrator for a postgres:// or postgresql:// URL.
func NewMigrator(databaseURL string) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.NewInternalError("embedded migrations unavailable").WithCause(err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return nil, errors.NewStorageError("open migrations", err)
	}
	return &Migrator{m: m}, nil
}

// migrateURL switches the scheme to the pgx/v5 driver's.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

// Up applies all pending migrations. Being current is not an error.
func (m *Migrator) Up() error {
	return ignoreNoChange(m.m.Up())
}

// Down reverts all migrations.
func (m *Migrator) Down() error {
	return ignoreNoChange(m.m.Down())
}

// Steps applies n migrations, or reverts them when n is negative.
func (m *Migrator) Steps(n int) error {
	return ignoreNoChange(m.m.Steps(n))
}

// Version reports the applied version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return stderrors.Join(srcErr, dbErr)
}

func ignoreNoChange(err error) error {
	if stderrors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
