package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	v, err := Current(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	latest, err := Latest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latest, 1)
	v, err = Current(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM generation_events`).Scan(&n))
	assert.Zero(t, n)
}
