package reward

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/sequence"
	"greencycle-platform/services/ledger"
	"greencycle-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Reward{},
		&RewardRedemption{},
		&ledger.PointsTransaction{},
	)
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})

	svc := NewService(ServiceParams{DB: db, Node: node, Ledger: ledgerSvc, Seq: sequence.NewRandomGenerator()})
	return svc, db
}

func givePoints(t *testing.T, svc *Service, userID string, points int64) {
	t.Helper()

	require.NoError(t, svc.ledger.Append(context.Background(), &ledger.PointsTransaction{
		UserID: userID, Points: points, Type: ledger.TypeEarned, Category: ledger.CategoryRecycling,
	}))
}

func seedReward(t *testing.T, db *gorm.DB, reward *Reward) {
	t.Helper()

	if reward.ID == "" {
		reward.ID = "reward-1"
	}
	if reward.CenterID == "" {
		reward.CenterID = "center-1"
	}
	if reward.Title == "" {
		reward.Title = "Reusable Bottle"
	}
	require.NoError(t, db.Create(reward).Error)
}

func TestRedeemHappyPath(t *testing.T) {
	svc, db := newTestService(t)
	quantity := int64(5)
	seedReward(t, db, &Reward{PointsCost: 100, Quantity: &quantity, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Redemption.Status)
	require.Equal(t, int64(100), result.Redemption.PointsCost)
	require.Len(t, result.Redemption.Code, 8)
	require.Equal(t, int64(0), result.NewBalance)

	balance, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)

	var entry ledger.PointsTransaction
	require.NoError(t, db.Where("user_id = ? AND type = ?", "user-1", ledger.TypeSpent).First(&entry).Error)
	require.Equal(t, ledger.CategoryRedemption, entry.Category)
	require.Equal(t, ledger.SourceRedemption, entry.Source.Kind)
	require.Equal(t, result.Redemption.ID, entry.Source.ID)
}

func TestRedeemInsufficientPoints(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 100, IsActive: true})
	givePoints(t, svc, "user-1", 99)

	_, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	// The failed attempt left nothing behind.
	var count int64
	require.NoError(t, db.Model(&RewardRedemption{}).Count(&count).Error)
	require.Equal(t, int64(0), count)

	balance, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(99), balance)
}

func TestRedeemUnavailableReward(t *testing.T) {
	svc, db := newTestService(t)
	expired := time.Now().UTC().Add(-time.Hour)
	seedReward(t, db, &Reward{ID: "reward-inactive", PointsCost: 10, IsActive: false})
	seedReward(t, db, &Reward{ID: "reward-expired", PointsCost: 10, IsActive: true, ExpiryDate: &expired})
	givePoints(t, svc, "user-1", 1000)

	_, err := svc.Redeem(context.Background(), "user-1", "reward-inactive")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = svc.Redeem(context.Background(), "user-1", "reward-expired")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	_, err = svc.Redeem(context.Background(), "user-1", "reward-missing")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestRedeemQuantityCap(t *testing.T) {
	svc, db := newTestService(t)
	quantity := int64(1)
	seedReward(t, db, &Reward{PointsCost: 10, Quantity: &quantity, IsActive: true})
	givePoints(t, svc, "user-1", 100)
	givePoints(t, svc, "user-2", 100)

	_, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	// Pending holds the last unit.
	_, err = svc.Redeem(context.Background(), "user-2", "reward-1")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestRedeemQuantityCapConcurrent(t *testing.T) {
	svc, db := newTestService(t)
	quantity := int64(1)
	seedReward(t, db, &Reward{PointsCost: 10, Quantity: &quantity, IsActive: true})
	givePoints(t, svc, "user-1", 100)
	givePoints(t, svc, "user-2", 100)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []string{"user-1", "user-2"} {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), userID, "reward-1")
		}(i, userID)
	}
	wg.Wait()

	// Exactly one of the racing redemptions may claim the last unit.
	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
		}
	}
	require.Equal(t, 1, succeeded)

	var count int64
	require.NoError(t, db.Model(&RewardRedemption{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRejectedRedemptionReleasesStock(t *testing.T) {
	svc, db := newTestService(t)
	quantity := int64(1)
	seedReward(t, db, &Reward{PointsCost: 10, Quantity: &quantity, IsActive: true})
	givePoints(t, svc, "user-1", 100)
	givePoints(t, svc, "user-2", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	// Past-tense spelling is accepted too.
	_, err = svc.Process(context.Background(), actor, result.Redemption.ID, "rejected", "out of stock at counter")
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), "user-2", "reward-1")
	require.NoError(t, err)
}

func TestRedeemUnlimitedQuantity(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 10, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	for i := 0; i < 3; i++ {
		_, err := svc.Redeem(context.Background(), "user-1", "reward-1")
		require.NoError(t, err)
	}
}

func TestProcessApprove(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 100, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	redemption, err := svc.Process(context.Background(), actor, result.Redemption.ID, DecisionApprove, "picked up")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, redemption.Status)
	require.Equal(t, "owner-1", redemption.ProcessedBy)
	require.NotNil(t, redemption.ProcessedAt)

	// No refund on approval.
	balance, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestProcessRejectRefundsSnapshotCost(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 100, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	// A price change after redemption must not affect the refund.
	require.NoError(t, db.Model(&Reward{}).Where("id = ?", "reward-1").Update("points_cost", 150).Error)

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	redemption, err := svc.Process(context.Background(), actor, result.Redemption.ID, DecisionReject, "")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, redemption.Status)

	balance, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)

	var refund ledger.PointsTransaction
	require.NoError(t, db.Where("user_id = ? AND category = ?", "user-1", ledger.CategoryRefund).First(&refund).Error)
	require.Equal(t, int64(100), refund.Points)
	require.Equal(t, result.Redemption.ID, refund.Source.ID)
}

func TestProcessAlreadyProcessed(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 100, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	_, err = svc.Process(context.Background(), actor, result.Redemption.ID, DecisionApprove, "")
	require.NoError(t, err)

	// The second settle attempt must not flip the status or touch the ledger.
	_, err = svc.Process(context.Background(), actor, result.Redemption.ID, DecisionReject, "")
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	redemption, err := svc.GetRedemption(context.Background(), result.Redemption.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, redemption.Status)

	balance, err := svc.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestProcessAuthorization(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 100, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), Actor{ID: "intruder", CenterID: "center-2"}, result.Redemption.ID, DecisionApprove, "")
	require.Equal(t, errutil.StatusForbidden, errutil.StatusOf(err))

	// Admins may settle any center's redemptions.
	_, err = svc.Process(context.Background(), Actor{ID: "admin-1", IsAdmin: true}, result.Redemption.ID, DecisionApprove, "")
	require.NoError(t, err)
}

func TestProcessValidation(t *testing.T) {
	svc, _ := newTestService(t)
	actor := Actor{ID: "owner-1", CenterID: "center-1"}

	_, err := svc.Process(context.Background(), actor, "", DecisionApprove, "")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.Process(context.Background(), actor, "rdm-1", "maybe", "")
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = svc.Process(context.Background(), actor, "rdm-missing", DecisionApprove, "")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestProcessBatchPartialFailure(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 10, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	first, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)
	second, err := svc.Redeem(context.Background(), "user-1", "reward-1")
	require.NoError(t, err)

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	_, err = svc.Process(context.Background(), actor, first.Redemption.ID, DecisionApprove, "")
	require.NoError(t, err)

	results, err := svc.ProcessBatch(context.Background(), actor,
		[]string{first.Redemption.ID, second.Redemption.ID, "rdm-missing"}, DecisionApprove, "")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.False(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)

	redemption, err := svc.GetRedemption(context.Background(), second.Redemption.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, redemption.Status)
}

func TestListRewardsAvailability(t *testing.T) {
	svc, db := newTestService(t)
	quantity := int64(1)
	expired := time.Now().UTC().Add(-time.Hour)
	seedReward(t, db, &Reward{ID: "reward-open", PointsCost: 10, IsActive: true})
	seedReward(t, db, &Reward{ID: "reward-gone", PointsCost: 10, IsActive: true, Quantity: &quantity})
	seedReward(t, db, &Reward{ID: "reward-expired", PointsCost: 10, IsActive: true, ExpiryDate: &expired})
	givePoints(t, svc, "user-1", 100)

	_, err := svc.Redeem(context.Background(), "user-1", "reward-gone")
	require.NoError(t, err)

	all, err := svc.ListRewards(context.Background(), ListFilter{CenterID: "center-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)

	byID := map[string]*RewardWithAvailability{}
	for _, r := range all {
		byID[r.ID] = r
	}
	require.True(t, byID["reward-open"].Available)
	require.False(t, byID["reward-gone"].Available)
	require.Equal(t, int64(0), *byID["reward-gone"].Remaining)
	require.False(t, byID["reward-expired"].Available)

	available, err := svc.ListRewards(context.Background(), ListFilter{CenterID: "center-1", OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, "reward-open", available[0].ID)
}

func TestListRedemptions(t *testing.T) {
	svc, db := newTestService(t)
	seedReward(t, db, &Reward{PointsCost: 10, IsActive: true})
	givePoints(t, svc, "user-1", 100)

	var ids []string
	for i := 0; i < 3; i++ {
		result, err := svc.Redeem(context.Background(), "user-1", "reward-1")
		require.NoError(t, err)
		ids = append(ids, result.Redemption.ID)
	}

	actor := Actor{ID: "owner-1", CenterID: "center-1"}
	_, err := svc.Process(context.Background(), actor, ids[0], DecisionApprove, "")
	require.NoError(t, err)

	pending, _, err := svc.ListRedemptions(context.Background(), RedemptionFilter{UserID: "user-1", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byCenter, _, err := svc.ListRedemptions(context.Background(), RedemptionFilter{CenterID: "center-1"})
	require.NoError(t, err)
	require.Len(t, byCenter, 3)

	_, _, err = svc.ListRedemptions(context.Background(), RedemptionFilter{Status: "cancelled"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}
