package reward

import (
	"context"
	"errors"
	"time"

	"greencycle-platform/pkg/db/pagination"
	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/sequence"
	"greencycle-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// codeAttempts bounds collision retries when generating a redemption code.
const codeAttempts = 5

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger *ledger.Service
	seq    sequence.Generator
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger *ledger.Service
	Seq    sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		ledger: p.Ledger,
		seq:    p.Seq,
	}
}

// activeCount counts redemptions holding a unit of the reward. Pending and
// approved both hold stock; rejected redemptions release it.
func (s *Service) activeCount(tx *gorm.DB, rewardID string) (int64, error) {
	var count int64
	err := tx.Model(&RewardRedemption{}).
		Where("reward_id = ? AND status IN ?", rewardID, []RedemptionStatus{StatusPending, StatusApproved}).
		Count(&count).Error
	return count, err
}

// RemainingQuantity returns how many units of the reward are left, or nil for
// unlimited rewards. Never negative.
func (s *Service) RemainingQuantity(ctx context.Context, reward *Reward) (*int64, error) {
	if reward.Quantity == nil {
		return nil, nil
	}
	count, err := s.activeCount(s.db.WithContext(ctx), reward.ID)
	if err != nil {
		return nil, err
	}
	remaining := *reward.Quantity - count
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}

type ListFilter struct {
	CenterID      string
	OnlyAvailable bool
	Featured      bool
}

// ListRewards returns the catalog with availability computed per reward.
// OnlyAvailable additionally drops inactive, expired and out-of-stock items.
func (s *Service) ListRewards(ctx context.Context, f ListFilter) ([]*RewardWithAvailability, error) {
	query := s.db.WithContext(ctx).Model(&Reward{})
	if f.CenterID != "" {
		query = query.Where("center_id = ?", f.CenterID)
	}
	if f.Featured {
		query = query.Where("is_featured = ?", true)
	}

	var rewards []*Reward
	if err := query.Order("created_at DESC, id DESC").Find(&rewards).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]*RewardWithAvailability, 0, len(rewards))
	for _, r := range rewards {
		remaining, err := s.RemainingQuantity(ctx, r)
		if err != nil {
			return nil, err
		}

		available := r.IsAvailable(now) && (remaining == nil || *remaining > 0)
		if f.OnlyAvailable && !available {
			continue
		}
		out = append(out, &RewardWithAvailability{
			Reward:    *r,
			Available: available,
			Remaining: remaining,
		})
	}
	return out, nil
}

type RedeemResult struct {
	Redemption *RewardRedemption `json:"redemption"`
	NewBalance int64             `json:"new_balance"`
}

// Redeem claims one unit of the reward for the user and deducts the points.
// The reward row is locked for the duration of the transaction and both the
// stock count and the balance are re-read inside it, so two racing
// redemptions of the last unit resolve to exactly one success.
func (s *Service) Redeem(ctx context.Context, userID, rewardID string) (*RedeemResult, error) {
	span := trace.SpanFromContext(ctx)

	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required")
	}
	if rewardID == "" {
		return nil, errutil.ValidationFailed("reward_id is required")
	}

	var result RedeemResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reward Reward
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rewardID).First(&reward).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("reward not found")
			}
			return err
		}

		if !reward.IsAvailable(time.Now().UTC()) {
			return errutil.Conflict("reward is not available")
		}

		if reward.Quantity != nil {
			count, err := s.activeCount(tx, reward.ID)
			if err != nil {
				return err
			}
			if count >= *reward.Quantity {
				return errutil.Conflict("reward is out of stock")
			}
		}

		balance, err := s.ledger.BalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if balance < reward.PointsCost {
			return errutil.Conflict("insufficient points balance")
		}

		code, err := s.nextCode(tx)
		if err != nil {
			return err
		}

		redemption := RewardRedemption{
			ID:         s.node.Generate().String(),
			Code:       code,
			UserID:     userID,
			RewardID:   reward.ID,
			CenterID:   reward.CenterID,
			PointsCost: reward.PointsCost,
			Status:     StatusPending,
		}
		if err := tx.Create(&redemption).Error; err != nil {
			return err
		}

		if err := s.ledger.AppendTx(ctx, tx, &ledger.PointsTransaction{
			UserID:      userID,
			CenterID:    reward.CenterID,
			Points:      reward.PointsCost,
			Type:        ledger.TypeSpent,
			Category:    ledger.CategoryRedemption,
			Description: "Redeemed " + reward.Title,
			Source:      ledger.Source{Kind: ledger.SourceRedemption, ID: redemption.ID},
		}); err != nil {
			return err
		}

		result = RedeemResult{
			Redemption: &redemption,
			NewBalance: balance - reward.PointsCost,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("reward redeemed",
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
		zap.String("reward_id", rewardID),
		zap.String("redemption_id", result.Redemption.ID),
	)
	return &result, nil
}

// nextCode generates a redemption code, retrying on the unlikely collision
// with an existing one. The unique index on code is the final guard.
func (s *Service) nextCode(tx *gorm.DB) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.seq.NextRedemptionCode()
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&RewardRedemption{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errutil.Internal("could not generate a unique redemption code")
}

// Process settles a pending redemption. Approve marks it fulfilled; reject
// additionally refunds exactly the points_cost recorded at redemption time,
// in the same transaction. The status transition is a conditional update on
// status = pending, so a second processor observes zero rows and gets a
// conflict instead of double-settling.
func (s *Service) Process(ctx context.Context, actor Actor, redemptionID string, decision Decision, notes string) (*RewardRedemption, error) {
	if redemptionID == "" {
		return nil, errutil.ValidationFailed("redemption_id is required")
	}
	target, ok := decision.TargetStatus()
	if !ok {
		return nil, errutil.ValidationFailed("decision must be approve or reject")
	}

	var redemption RewardRedemption
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", redemptionID).First(&redemption).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("redemption not found")
			}
			return err
		}

		if !actor.IsAdmin && actor.CenterID != redemption.CenterID {
			return errutil.Forbidden("actor does not manage this redemption's center")
		}

		status := target
		now := time.Now().UTC()

		res := tx.Model(&RewardRedemption{}).
			Where("id = ? AND status = ?", redemption.ID, StatusPending).
			Updates(map[string]interface{}{
				"status":       status,
				"notes":        notes,
				"processed_at": now,
				"processed_by": actor.ID,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("redemption already processed")
		}

		if status == StatusRejected {
			if err := s.ledger.AppendTx(ctx, tx, &ledger.PointsTransaction{
				UserID:      redemption.UserID,
				CenterID:    redemption.CenterID,
				Points:      redemption.PointsCost,
				Type:        ledger.TypeEarned,
				Category:    ledger.CategoryRefund,
				Description: "Refund for rejected redemption " + redemption.Code,
				Source:      ledger.Source{Kind: ledger.SourceRedemption, ID: redemption.ID},
			}); err != nil {
				return err
			}
		}

		redemption.Status = status
		redemption.Notes = notes
		redemption.ProcessedAt = &now
		redemption.ProcessedBy = actor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("redemption processed",
		zap.String("redemption_id", redemption.ID),
		zap.String("status", string(redemption.Status)),
		zap.String("processed_by", actor.ID),
	)
	return &redemption, nil
}

// ProcessBatch settles each redemption in its own transaction. One failure
// never rolls back its siblings; the caller gets a per-item outcome.
func (s *Service) ProcessBatch(ctx context.Context, actor Actor, redemptionIDs []string, decision Decision, notes string) ([]BatchResult, error) {
	if len(redemptionIDs) == 0 {
		return nil, errutil.ValidationFailed("redemption_ids must not be empty")
	}

	results := make([]BatchResult, 0, len(redemptionIDs))
	for _, id := range redemptionIDs {
		if _, err := s.Process(ctx, actor, id, decision, notes); err != nil {
			results = append(results, BatchResult{RedemptionID: id, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{RedemptionID: id, Success: true})
	}
	return results, nil
}

func (s *Service) GetRedemption(ctx context.Context, redemptionID string) (*RewardRedemption, error) {
	var redemption RewardRedemption
	if err := s.db.WithContext(ctx).Where("id = ?", redemptionID).First(&redemption).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("redemption not found")
		}
		return nil, err
	}
	return &redemption, nil
}

type RedemptionFilter struct {
	UserID   string
	CenterID string
	Status   RedemptionStatus
	Cursor   string
	Limit    int
}

// ListRedemptions returns redemptions matching the filter, newest first, with
// cursor pagination.
func (s *Service) ListRedemptions(ctx context.Context, f RedemptionFilter) ([]*RewardRedemption, *pagination.PageInfo, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&RewardRedemption{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.CenterID != "" {
		query = query.Where("center_id = ?", f.CenterID)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, nil, errutil.ValidationFailed("unsupported redemption status")
		}
		query = query.Where("status = ?", f.Status)
	}

	if f.Cursor != "" {
		cursor, err := pagination.DecodeCursor(f.Cursor)
		if err != nil {
			return nil, nil, errutil.ValidationFailed("invalid cursor")
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.ValidationFailed("invalid cursor")
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	var redemptions []*RewardRedemption
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&redemptions).Error; err != nil {
		return nil, nil, err
	}

	redemptions, pageInfo := pagination.BuildCursorPageInfo(redemptions, limit, func(r *RewardRedemption) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        r.ID,
		})
		return c
	})

	return redemptions, pageInfo, nil
}
