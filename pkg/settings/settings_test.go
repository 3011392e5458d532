package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greencycle-platform/pkg/errutil"
	"greencycle-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestGetMissingSetting(t *testing.T) {
	db := testutil.NewTestDB(t, &Setting{})
	svc := NewService(ServiceParams{DB: db})

	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestSetThenGet(t *testing.T) {
	db := testutil.NewTestDB(t, &Setting{})
	svc := NewService(ServiceParams{DB: db})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyGlobalMultiplier, "1.5"))

	val, err := svc.Get(ctx, KeyGlobalMultiplier)
	require.NoError(t, err)
	require.Equal(t, "1.5", val)

	// Set is an upsert.
	require.NoError(t, svc.Set(ctx, KeyGlobalMultiplier, "2"))
	val, err = svc.Get(ctx, KeyGlobalMultiplier)
	require.NoError(t, err)
	require.Equal(t, "2", val)
}

func TestGetFloat(t *testing.T) {
	db := testutil.NewTestDB(t, &Setting{})
	svc := NewService(ServiceParams{DB: db})
	ctx := context.Background()

	require.Equal(t, 1.0, svc.GetFloat(ctx, KeyGlobalMultiplier, 1.0))

	require.NoError(t, svc.Set(ctx, KeyGlobalMultiplier, "2.5"))
	require.Equal(t, 2.5, svc.GetFloat(ctx, KeyGlobalMultiplier, 1.0))

	require.NoError(t, svc.Set(ctx, "points.bad", "not-a-number"))
	require.Equal(t, 3.0, svc.GetFloat(ctx, "points.bad", 3.0))
}
