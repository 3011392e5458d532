package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greencycle-platform/pkg/errutil"
	"greencycle-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &PointsTransaction{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestAppendValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		entry *PointsTransaction
	}{
		{"missing user", &PointsTransaction{Points: 10, Type: TypeEarned, Category: CategoryRecycling}},
		{"zero points", &PointsTransaction{UserID: "user-1", Points: 0, Type: TypeEarned, Category: CategoryRecycling}},
		{"negative points", &PointsTransaction{UserID: "user-1", Points: -5, Type: TypeSpent, Category: CategoryRedemption}},
		{"bad type", &PointsTransaction{UserID: "user-1", Points: 10, Type: "borrowed", Category: CategoryRecycling}},
		{"bad category", &PointsTransaction{UserID: "user-1", Points: 10, Type: TypeEarned, Category: "gambling"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Append(ctx, tc.entry)
			require.Error(t, err)
			require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
		})
	}
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	svc := newTestService(t)

	entry := &PointsTransaction{UserID: "user-1", Points: 10, Type: TypeEarned, Category: CategoryRecycling}
	require.NoError(t, svc.Append(context.Background(), entry))

	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
}

func TestBalanceIsFoldOverLedger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entries := []*PointsTransaction{
		{UserID: "user-1", Points: 100, Type: TypeEarned, Category: CategoryRecycling},
		{UserID: "user-1", Points: 50, Type: TypeEarned, Category: CategoryBonus},
		{UserID: "user-1", Points: 30, Type: TypeSpent, Category: CategoryRedemption},
		{UserID: "user-2", Points: 999, Type: TypeEarned, Category: CategoryRecycling},
	}
	for _, e := range entries {
		require.NoError(t, svc.Append(ctx, e))
	}

	balance, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(120), balance)

	balance, err = svc.Balance(ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestSummaryByCategory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []*PointsTransaction{
		{UserID: "user-1", Points: 100, Type: TypeEarned, Category: CategoryRecycling, CreatedAt: now},
		{UserID: "user-1", Points: 20, Type: TypeEarned, Category: CategoryBonus, CreatedAt: now},
		{UserID: "user-1", Points: 30, Type: TypeSpent, Category: CategoryRedemption, CreatedAt: now},
		{UserID: "user-1", Points: 500, Type: TypeEarned, Category: CategoryRecycling, CreatedAt: now.AddDate(0, 0, -30)},
	}
	for _, e := range entries {
		require.NoError(t, svc.Append(ctx, e))
	}

	summary, err := svc.SummaryByCategory(ctx, "user-1", TimeframeWeek)
	require.NoError(t, err)
	require.Equal(t, int64(100), summary[CategoryRecycling])
	require.Equal(t, int64(20), summary[CategoryBonus])
	require.Equal(t, int64(-30), summary[CategoryRedemption])

	summary, err = svc.SummaryByCategory(ctx, "user-1", TimeframeAll)
	require.NoError(t, err)
	require.Equal(t, int64(600), summary[CategoryRecycling])

	_, err = svc.SummaryByCategory(ctx, "user-1", "decade")
	require.Error(t, err)
}

func TestLeaderboardOrderingAndTieBreak(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entries := []*PointsTransaction{
		{UserID: "user-a", Points: 100, Type: TypeEarned, Category: CategoryRecycling},
		{UserID: "user-a", Points: 50, Type: TypeSpent, Category: CategoryRedemption},
		{UserID: "user-b", Points: 200, Type: TypeEarned, Category: CategoryRecycling},
		{UserID: "user-c", Points: 200, Type: TypeEarned, Category: CategoryRecycling},
	}
	for _, e := range entries {
		require.NoError(t, svc.Append(ctx, e))
	}

	rows, err := svc.Leaderboard(ctx, 10, TimeframeAll)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "user-b", rows[0].UserID)
	require.Equal(t, "user-c", rows[1].UserID)
	require.Equal(t, "user-a", rows[2].UserID)

	require.Equal(t, int64(100), rows[2].Earned)
	require.Equal(t, int64(50), rows[2].Spent)
	require.Equal(t, int64(50), rows[2].Balance)

	rows, err = svc.Leaderboard(ctx, 2, TimeframeAll)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestQueryFiltersAndPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		entry := &PointsTransaction{
			UserID:    "user-1",
			Points:    int64(10 + i),
			Type:      TypeEarned,
			Category:  CategoryRecycling,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, svc.Append(ctx, entry))
	}
	require.NoError(t, svc.Append(ctx, &PointsTransaction{
		UserID: "user-1", Points: 5, Type: TypeSpent, Category: CategoryRedemption,
		CreatedAt: base.Add(-time.Minute),
	}))

	// Newest first.
	entries, pageInfo, err := svc.Query(ctx, Filter{UserID: "user-1", Type: TypeEarned, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, pageInfo.HasMore)
	require.Equal(t, int64(14), entries[0].Points)
	require.Equal(t, int64(13), entries[1].Points)

	entries, pageInfo, err = svc.Query(ctx, Filter{UserID: "user-1", Type: TypeEarned, Limit: 2, Cursor: pageInfo.NextCursor})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(12), entries[0].Points)
	require.True(t, pageInfo.HasMore)

	entries, pageInfo, err = svc.Query(ctx, Filter{UserID: "user-1", Type: TypeEarned, Limit: 2, Cursor: pageInfo.NextCursor})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, pageInfo.HasMore)

	_, _, err = svc.Query(ctx, Filter{UserID: "user-1", Cursor: "not-base64"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	entries, _, err = svc.Query(ctx, Filter{UserID: "user-1", Category: CategoryRedemption})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
