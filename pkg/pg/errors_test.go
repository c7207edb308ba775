package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/speakbill/pkg/pg"
)

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	wrap := func(code string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
	assert.True(t, pg.IsDuplicateKeyError(wrap("23505")))
	assert.False(t, pg.IsDuplicateKeyError(wrap("23503")))
	assert.True(t, pg.IsForeignKeyViolationError(wrap("23503")))
	assert.True(t, pg.IsSerializationError(wrap("40001")))
	assert.False(t, pg.IsSerializationError(errors.New("other")))
}
