package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tierkeep/pkg/pg"
)

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	dup := &pgconn.PgError{Code: "23505"}
	serial := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("load: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))

	assert.True(t, pg.IsDuplicateKeyError(fmt.Errorf("insert: %w", dup)))
	assert.False(t, pg.IsDuplicateKeyError(serial))
	assert.False(t, pg.IsDuplicateKeyError(errors.New("plain")))

	assert.True(t, pg.IsSerializationError(serial))
	assert.True(t, pg.IsSerializationError(deadlock))
	assert.False(t, pg.IsSerializationError(dup))
	assert.False(t, pg.IsSerializationError(nil))
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	_, err := pg.Connect(context.Background(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)

	_, err = pg.Connect(context.Background(), pg.Config{ConnectionString: "postgres://%zz"})
	assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
}

func TestMigrateRequiresFS(t *testing.T) {
	t.Parallel()

	err := pg.Migrate(context.Background(), nil, nil, pg.Config{}, nil)
	assert.ErrorIs(t, err, pg.ErrMigrationsNotProvided)
	assert.ErrorIs(t, err, pg.ErrFailedToApplyMigrations)
}
