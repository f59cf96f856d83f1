package dialect

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres(PGX))
	assert.False(t, IsPostgres(SQLite3))
}

func TestInsertIgnoreConflict_SQLiteSkipsDuplicateInsert(t *testing.T) {
	db, err := sqlx.Connect(SQLite3, ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE teams (name TEXT PRIMARY KEY)")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, InsertIgnoreConflict(ctx, db, "INSERT INTO teams (name) VALUES (?)", "name", "frontend"))
	require.NoError(t, InsertIgnoreConflict(ctx, db, "INSERT INTO teams (name) VALUES (?)", "name", "frontend"))

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM teams"))
	assert.Equal(t, 1, count)
}
