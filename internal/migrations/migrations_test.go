package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/fhirapi/internal/db/bunx"
)

func TestApply_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB("file:migrations_test?mode=memory&cache=shared", bunx.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.True(t, IsSQLite(db))
	assert.False(t, IsPostgreSQL(db))

	group, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.False(t, group.IsZero())

	for _, table := range []string{"patients", "patients_history", "observations", "conditions_history", "encounters", "users"} {
		var count int
		err := db.NewRaw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(ctx, &count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, table)
	}

	// Second run is a no-op.
	group, err = Apply(ctx, db)
	require.NoError(t, err)
	assert.True(t, group.IsZero())
}
