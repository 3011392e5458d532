package ledger

import (
	"context"
	"time"

	"greencycle-platform/pkg/db/pagination"
	"greencycle-platform/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the ledger store and balance calculator. The ledger is the only
// source of truth for balances: no stored balance column exists anywhere, a
// balance is always the fold earned-spent over this table.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

// Append inserts the transaction in its own database transaction. Callers
// composing the append with other writes must use AppendTx instead.
func (s *Service) Append(ctx context.Context, entry *PointsTransaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AppendTx(ctx, tx, entry)
	})
}

// AppendTx validates and inserts the transaction inside the caller's gorm
// transaction, so the entry commits atomically with the caller's other
// writes. There is no update or delete counterpart.
func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, entry *PointsTransaction) error {
	if entry.UserID == "" {
		return errutil.ValidationFailed("user_id is required")
	}
	if entry.Points < 1 {
		return errutil.ValidationFailed("points must be at least 1")
	}
	if !entry.Type.Valid() {
		return errutil.ValidationFailed("unsupported transaction type")
	}
	if !entry.Category.Valid() {
		return errutil.ValidationFailed("unsupported transaction category")
	}

	if entry.ID == "" {
		entry.ID = s.node.Generate().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return tx.WithContext(ctx).Create(entry).Error
}

// Balance derives the user's current balance from the ledger. The read is
// always fresh; spend-authorization decisions go through BalanceTx inside the
// deciding transaction.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.balanceWith(s.db.WithContext(ctx), userID)
}

// BalanceTx derives the balance inside the caller's transaction so the
// decision sees every previously committed entry plus the caller's own
// uncommitted writes.
func (s *Service) BalanceTx(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	return s.balanceWith(tx.WithContext(ctx), userID)
}

func (s *Service) balanceWith(db *gorm.DB, userID string) (int64, error) {
	var balance int64
	err := db.Model(&PointsTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN points ELSE -points END), 0)", TypeEarned).
		Where("user_id = ?", userID).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Query returns transactions matching the filter, newest first, with cursor
// pagination.
func (s *Service) Query(ctx context.Context, f Filter) ([]*PointsTransaction, *pagination.PageInfo, error) {
	span := trace.SpanFromContext(ctx)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&PointsTransaction{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.CenterID != "" {
		query = query.Where("center_id = ?", f.CenterID)
	}
	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, nil, errutil.ValidationFailed("unsupported transaction type")
		}
		query = query.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		if !f.Category.Valid() {
			return nil, nil, errutil.ValidationFailed("unsupported transaction category")
		}
		query = query.Where("category = ?", f.Category)
	}
	if !f.From.IsZero() {
		query = query.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("created_at < ?", f.To)
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

	var entries []*PointsTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&entries).Error; err != nil {
		zap.L().Error("failed to query ledger entries",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(err),
		)
		return nil, nil, err
	}

	entries, pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e *PointsTransaction) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        e.ID,
		})
		return c
	})

	return entries, pageInfo, nil
}

// SummaryByCategory returns net points (earned minus spent) per category for
// the user within the timeframe.
func (s *Service) SummaryByCategory(ctx context.Context, userID string, timeframe Timeframe) (map[Category]int64, error) {
	if !timeframe.Valid() {
		return nil, errutil.ValidationFailed("unsupported timeframe")
	}

	query := s.db.WithContext(ctx).Model(&PointsTransaction{}).
		Select("category, COALESCE(SUM(CASE WHEN type = ? THEN points ELSE -points END), 0) AS net", TypeEarned).
		Where("user_id = ?", userID).
		Group("category")

	if since, ok := timeframe.Since(time.Now().UTC()); ok {
		query = query.Where("created_at >= ?", since)
	}

	var rows []struct {
		Category Category
		Net      int64
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	summary := make(map[Category]int64, len(rows))
	for _, row := range rows {
		summary[row.Category] = row.Net
	}
	return summary, nil
}

// Leaderboard ranks users by points earned within the timeframe. Ties break
// on ascending user id, which keeps the order stable across reads.
func (s *Service) Leaderboard(ctx context.Context, limit int, timeframe Timeframe) ([]LeaderboardRow, error) {
	if !timeframe.Valid() {
		return nil, errutil.ValidationFailed("unsupported timeframe")
	}
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx).Model(&PointsTransaction{}).
		Select(
			"user_id, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN points ELSE 0 END), 0) AS earned, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN points ELSE 0 END), 0) AS spent",
			TypeEarned, TypeSpent,
		).
		Group("user_id").
		Order("earned DESC, user_id ASC").
		Limit(limit)

	if since, ok := timeframe.Since(time.Now().UTC()); ok {
		query = query.Where("created_at >= ?", since)
	}

	var rows []LeaderboardRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	for i := range rows {
		rows[i].Balance = rows[i].Earned - rows[i].Spent
	}
	return rows, nil
}
