package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/migrations"
	"github.com/terraconstructs/fhirapi/internal/repository"
)

func TestSeedDemoUsers(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB("file:"+uuid.NewString()+"?mode=memory&cache=shared", bunx.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	users := repository.NewBunUserRepository(db)
	a := auth.NewAuthenticator(users, nil, nil)

	created := map[string]bool{}
	record := func(req auth.RegisterRequest, ok bool) { created[req.Username] = ok }

	require.NoError(t, seedDemoUsers(ctx, a, record))
	assert.Equal(t, map[string]bool{"admin": true, "doctor": true, "patient": true}, created)

	patient, err := users.GetByUsername(ctx, "patient")
	require.NoError(t, err)
	require.NotNil(t, patient.PatientID)
	assert.Equal(t, "patient-001", *patient.PatientID)
	assert.Equal(t, []string{"Patient"}, patient.RoleNames())

	// A second run leaves the accounts alone.
	require.NoError(t, seedDemoUsers(ctx, a, record))
	assert.Equal(t, map[string]bool{"admin": false, "doctor": false, "patient": false}, created)

	list, err := users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
