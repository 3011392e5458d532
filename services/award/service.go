package award

import (
	"context"
	"errors"
	"strconv"
	"time"

	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/settings"
	"greencycle-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// streakWindowDays bounds how far back the streak query looks when a center
// has no bonus config cap.
const streakWindowDays = 60

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	settings *settings.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Settings *settings.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		settings: p.Settings,
	}
}

type AwardRequest struct {
	UserID     string
	CenterID   string
	MaterialID string
	Quantity   float64
	// EventID references an existing unawarded recycling event. Empty means
	// the award records a fresh event.
	EventID    string
	RecycledAt time.Time
}

type AwardResult struct {
	EventID         string `json:"event_id"`
	BasePoints      int64  `json:"base_points"`
	BonusPoints     int64  `json:"bonus_points"`
	TotalPoints     int64  `json:"total_points"`
	ConsecutiveDays int    `json:"consecutive_days"`
}

// AwardRecycling turns a recycling event into ledger entries: one
// earned/recycling entry for the base points and, when the center runs a
// streak bonus, a second earned/bonus entry. The event's points_earned, both
// appends and the streak read happen in a single database transaction; a
// conditional update on points_earned = 0 guarantees at most one award per
// event under concurrency.
func (s *Service) AwardRecycling(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", req.UserID),
		zap.String("center_id", req.CenterID),
	)

	if req.UserID == "" || req.CenterID == "" || req.MaterialID == "" {
		return nil, errutil.ValidationFailed("user_id, center_id and material_id are required")
	}
	if req.Quantity <= 0 {
		return nil, errutil.ValidationFailed("quantity must be greater than zero")
	}

	if err := s.centerExists(ctx, req.CenterID); err != nil {
		return nil, err
	}

	var material Material
	if err := s.db.WithContext(ctx).Where("id = ?", req.MaterialID).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("material not found")
		}
		return nil, err
	}

	globalMultiplier := s.settings.GetFloat(ctx, settings.KeyGlobalMultiplier, 1.0)

	var result AwardResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.resolveConfig(ctx, tx, req.CenterID, &material)
		if err != nil {
			return err
		}
		if !cfg.IsEnabled {
			return errutil.Conflict("material is disabled at this center")
		}

		basePoints := cfg.EffectivePoints(req.Quantity, globalMultiplier)
		if basePoints < 1 {
			return errutil.ValidationFailed("quantity too small to earn points")
		}

		recycledAt := req.RecycledAt
		if recycledAt.IsZero() {
			recycledAt = time.Now().UTC()
		}

		event, err := s.claimEvent(ctx, tx, req, recycledAt)
		if err != nil {
			return err
		}

		consecutiveDays := 1
		bonusPoints := int64(0)

		var bonusCfg BonusConfig
		if err := tx.Where("center_id = ?", req.CenterID).First(&bonusCfg).Error; err == nil {
			if bonusCfg.ConsecutiveDaysEnabled {
				streak, err := s.priorStreak(ctx, tx, req.UserID, req.CenterID, recycledAt, bonusCfg.MaxConsecutiveDays)
				if err != nil {
					return err
				}
				consecutiveDays = streak + 1
				bonusPoints = bonusCfg.CalculateBonus(basePoints, consecutiveDays)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := s.ledger.AppendTx(ctx, tx, &ledger.PointsTransaction{
			UserID:      req.UserID,
			CenterID:    req.CenterID,
			Points:      basePoints,
			Type:        ledger.TypeEarned,
			Category:    ledger.CategoryRecycling,
			Description: "Recycled " + material.Name,
			Source:      ledger.Source{Kind: ledger.SourceRecyclingEvent, ID: event.ID},
		}); err != nil {
			return err
		}

		if bonusPoints > 0 {
			if err := s.ledger.AppendTx(ctx, tx, &ledger.PointsTransaction{
				UserID:      req.UserID,
				CenterID:    req.CenterID,
				Points:      bonusPoints,
				Type:        ledger.TypeEarned,
				Category:    ledger.CategoryBonus,
				Description: "Consecutive-day recycling bonus",
				Source:      ledger.Source{Kind: ledger.SourceRecyclingEvent, ID: event.ID},
			}); err != nil {
				return err
			}
		}

		total := basePoints + bonusPoints
		res := tx.Model(&RecyclingEvent{}).
			Where("id = ? AND points_earned = 0", event.ID).
			Update("points_earned", total)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("recycling event already awarded")
		}

		result = AwardResult{
			EventID:         event.ID,
			BasePoints:      basePoints,
			BonusPoints:     bonusPoints,
			TotalPoints:     total,
			ConsecutiveDays: consecutiveDays,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("recycling points awarded",
		zap.String("event_id", result.EventID),
		zap.Int64("base_points", result.BasePoints),
		zap.Int64("bonus_points", result.BonusPoints),
	)
	return &result, nil
}

type ManualAwardRequest struct {
	ActorCenterID string
	UserID        string
	Points        int64
	Category      ledger.Category
	Description   string
}

// AwardManual posts a single earned entry with caller-supplied points,
// bypassing material rates and bonuses.
func (s *Service) AwardManual(ctx context.Context, req ManualAwardRequest) (*ledger.PointsTransaction, error) {
	if req.UserID == "" {
		return nil, errutil.ValidationFailed("user_id is required")
	}
	if req.Points < 1 {
		return nil, errutil.ValidationFailed("points must be at least 1")
	}

	category := req.Category
	if category == "" {
		category = ledger.CategoryOther
	}

	entry := &ledger.PointsTransaction{
		UserID:      req.UserID,
		CenterID:    req.ActorCenterID,
		Points:      req.Points,
		Type:        ledger.TypeEarned,
		Category:    category,
		Description: req.Description,
		Source:      ledger.Source{Kind: ledger.SourceManual},
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

type MaterialPointInput struct {
	MaterialID string  `json:"material_id"`
	Points     int64   `json:"points"`
	Multiplier float64 `json:"multiplier"`
	IsEnabled  bool    `json:"is_enabled"`
}

// ConfigureMaterialPoints upserts the center's material rates in one
// transaction and optionally updates the platform-wide multiplier.
func (s *Service) ConfigureMaterialPoints(ctx context.Context, centerID string, inputs []MaterialPointInput, globalMultiplier *float64) error {
	if err := s.centerExists(ctx, centerID); err != nil {
		return err
	}

	for _, in := range inputs {
		if in.MaterialID == "" {
			return errutil.ValidationFailed("material_id is required")
		}
		if in.Points < 0 {
			return errutil.ValidationFailed("points must not be negative")
		}
		if in.Multiplier <= 0 {
			return errutil.ValidationFailed("multiplier must be greater than zero")
		}
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range inputs {
			cfg := MaterialPointConfig{
				ID:         s.node.Generate().String(),
				CenterID:   centerID,
				MaterialID: in.MaterialID,
				Points:     in.Points,
				Multiplier: in.Multiplier,
				IsEnabled:  in.IsEnabled,
				UpdatedAt:  time.Now(),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "center_id"}, {Name: "material_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"points", "multiplier", "is_enabled", "updated_at"}),
			}).Create(&cfg).Error; err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if globalMultiplier != nil {
		if *globalMultiplier <= 0 {
			return errutil.ValidationFailed("global multiplier must be greater than zero")
		}
		return s.settings.Set(ctx, settings.KeyGlobalMultiplier, strconv.FormatFloat(*globalMultiplier, 'f', -1, 64))
	}
	return nil
}

// ConsecutiveDays reports the user's current streak at a center: the
// contiguous run of distinct calendar days ending today, or yesterday when
// the user has not recycled yet today.
func (s *Service) ConsecutiveDays(ctx context.Context, userID, centerID string) (int, error) {
	now := time.Now().UTC()

	streak, err := s.priorStreak(ctx, s.db.WithContext(ctx), userID, centerID, now.AddDate(0, 0, 1), 0)
	if err != nil {
		return 0, err
	}
	if streak > 0 {
		return streak, nil
	}

	// Nothing today yet; the run ending yesterday still counts.
	return s.priorStreak(ctx, s.db.WithContext(ctx), userID, centerID, now, 0)
}

func (s *Service) centerExists(ctx context.Context, centerID string) error {
	var center RecyclingCenter
	if err := s.db.WithContext(ctx).Where("id = ?", centerID).First(&center).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("recycling center not found")
		}
		return err
	}
	return nil
}

// resolveConfig returns the center's override for the material, or a
// synthetic enabled config at the material's default rate when the center
// carries none.
func (s *Service) resolveConfig(ctx context.Context, tx *gorm.DB, centerID string, material *Material) (*MaterialPointConfig, error) {
	var cfg MaterialPointConfig
	err := tx.Where("center_id = ? AND material_id = ?", centerID, material.ID).First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &MaterialPointConfig{
		CenterID:   centerID,
		MaterialID: material.ID,
		Points:     material.DefaultPoints,
		Multiplier: 1,
		IsEnabled:  true,
	}, nil
}

// claimEvent loads the referenced event or records a new one. Referenced
// events must belong to the same user/center and must not be awarded yet.
func (s *Service) claimEvent(ctx context.Context, tx *gorm.DB, req AwardRequest, recycledAt time.Time) (*RecyclingEvent, error) {
	if req.EventID != "" {
		var event RecyclingEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", req.EventID).First(&event).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errutil.NotFound("recycling event not found")
			}
			return nil, err
		}
		if event.UserID != req.UserID || event.CenterID != req.CenterID {
			return nil, errutil.ValidationFailed("recycling event does not match user and center")
		}
		if event.PointsEarned != 0 {
			return nil, errutil.Conflict("recycling event already awarded")
		}
		return &event, nil
	}

	event := RecyclingEvent{
		ID:         s.node.Generate().String(),
		UserID:     req.UserID,
		CenterID:   req.CenterID,
		MaterialID: req.MaterialID,
		Quantity:   req.Quantity,
		RecycledAt: recycledAt,
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// priorStreak counts the contiguous run of distinct calendar days the user
// recycled at the center, ending the day before asOf. Days are bucketed in
// UTC; the fetch window is capped so unbounded histories stay cheap.
func (s *Service) priorStreak(ctx context.Context, tx *gorm.DB, userID, centerID string, asOf time.Time, maxDays int) (int, error) {
	window := streakWindowDays
	if maxDays > 0 && maxDays+1 > window {
		window = maxDays + 1
	}

	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	from := dayStart.AddDate(0, 0, -window)

	var stamps []time.Time
	if err := tx.Model(&RecyclingEvent{}).
		Where("user_id = ? AND center_id = ? AND recycled_at >= ? AND recycled_at < ?", userID, centerID, from, dayStart).
		Pluck("recycled_at", &stamps).Error; err != nil {
		return 0, err
	}

	days := make(map[string]struct{}, len(stamps))
	for _, ts := range stamps {
		days[ts.UTC().Format(time.DateOnly)] = struct{}{}
	}

	streak := 0
	for d := dayStart.AddDate(0, 0, -1); ; d = d.AddDate(0, 0, -1) {
		if _, ok := days[d.Format(time.DateOnly)]; !ok {
			break
		}
		streak++
	}
	return streak, nil
}
