package award

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// RecyclingCenter is a partner drop-off location. Owners manage material
// rates and process redemptions for rewards published by their center.
type RecyclingCenter struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	OwnerID   string    `gorm:"column:owner_id;index" json:"owner_id"`
	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RecyclingCenter) TableName() string { return "recycling_centers" }

// Material is a recyclable substance with a platform-wide default rate,
// used when a center carries no override.
type Material struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	Name          string    `gorm:"column:name;not null" json:"name"`
	Icon          string    `gorm:"column:icon" json:"icon"`
	DefaultPoints int64     `gorm:"column:default_points;not null;default:0" json:"default_points"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Material) TableName() string { return "materials" }

// MaterialPointConfig is a per-center override of a material's rate.
// Unique per (center, material).
type MaterialPointConfig struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	CenterID   string    `gorm:"column:center_id;uniqueIndex:idx_center_material;not null" json:"center_id"`
	MaterialID string    `gorm:"column:material_id;uniqueIndex:idx_center_material;not null" json:"material_id"`
	Points     int64     `gorm:"column:points;not null;default:0" json:"points"`
	Multiplier float64   `gorm:"column:multiplier;not null;default:1" json:"multiplier"`
	IsEnabled  bool      `gorm:"column:is_enabled;not null;default:true" json:"is_enabled"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (MaterialPointConfig) TableName() string { return "material_point_configs" }

// EffectivePoints computes the points for a quantity of material at this
// config's rate. Disabled configs always yield zero. Rounding happens once,
// after all multipliers are applied.
func (c *MaterialPointConfig) EffectivePoints(quantity, globalMultiplier float64) int64 {
	if !c.IsEnabled {
		return 0
	}
	if globalMultiplier <= 0 {
		globalMultiplier = 1
	}
	return int64(math.Round(float64(c.Points) * c.Multiplier * globalMultiplier * quantity))
}

// BonusConfig is a center's optional consecutive-day streak bonus.
type BonusConfig struct {
	CenterID               string    `gorm:"column:center_id;primaryKey" json:"center_id"`
	ConsecutiveDaysEnabled bool      `gorm:"column:consecutive_days_enabled;not null;default:false" json:"consecutive_days_enabled"`
	ConsecutiveDaysBonus   float64   `gorm:"column:consecutive_days_bonus;not null;default:0" json:"consecutive_days_bonus"`
	MaxConsecutiveDays     int       `gorm:"column:max_consecutive_days;not null;default:7" json:"max_consecutive_days"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BonusConfig) TableName() string { return "bonus_configs" }

// CalculateBonus returns the streak bonus for basePoints earned on the
// consecutiveDays-th day of a streak. The first day never earns a bonus;
// streaks longer than MaxConsecutiveDays are capped at the maximum rate.
func (c *BonusConfig) CalculateBonus(basePoints int64, consecutiveDays int) int64 {
	if c == nil || !c.ConsecutiveDaysEnabled || consecutiveDays <= 1 {
		return 0
	}

	days := consecutiveDays
	if c.MaxConsecutiveDays > 0 && days > c.MaxConsecutiveDays {
		days = c.MaxConsecutiveDays
	}

	return int64(math.Round(float64(basePoints) * c.ConsecutiveDaysBonus * float64(days-1)))
}

// RecyclingEvent is a physical drop-off. PointsEarned is written exactly once
// by the award engine, in the same transaction as the ledger entries; a row
// with points_earned = 0 has not been awarded yet.
type RecyclingEvent struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	UserID       string         `gorm:"column:user_id;index;not null" json:"user_id"`
	CenterID     string         `gorm:"column:center_id;index;not null" json:"center_id"`
	MaterialID   string         `gorm:"column:material_id;index;not null" json:"material_id"`
	Quantity     float64        `gorm:"column:quantity;not null" json:"quantity"`
	PointsEarned int64          `gorm:"column:points_earned;not null;default:0" json:"points_earned"`
	RecycledAt   time.Time      `gorm:"column:recycled_at;index;not null" json:"recycled_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (RecyclingEvent) TableName() string { return "recycling_events" }
