package reward

import (
	"time"

	"gorm.io/gorm"
)

// Reward is a catalog item published by a recycling center. Quantity nil
// means unlimited stock. Rewards are soft-deleted so historical redemptions
// keep their reference.
type Reward struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	CenterID    string         `gorm:"column:center_id;index;not null" json:"center_id"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	PointsCost  int64          `gorm:"column:points_cost;not null" json:"points_cost"`
	Quantity    *int64         `gorm:"column:quantity" json:"quantity,omitempty"`
	ExpiryDate  *time.Time     `gorm:"column:expiry_date" json:"expiry_date,omitempty"`
	IsActive    bool           `gorm:"column:is_active;not null;default:true" json:"is_active"`
	IsFeatured  bool           `gorm:"column:is_featured;not null;default:false" json:"is_featured"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Reward) TableName() string { return "rewards" }

type RedemptionStatus string

const (
	StatusPending  RedemptionStatus = "pending"
	StatusApproved RedemptionStatus = "approved"
	StatusRejected RedemptionStatus = "rejected"
)

func (s RedemptionStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// RewardRedemption is a user's claim on a reward. PointsCost is a snapshot of
// the reward's price at redemption time; a later price change never alters
// what a rejected redemption refunds.
type RewardRedemption struct {
	ID          string           `gorm:"column:id;primaryKey" json:"id"`
	Code        string           `gorm:"column:code;uniqueIndex;not null" json:"code"`
	UserID      string           `gorm:"column:user_id;index;not null" json:"user_id"`
	RewardID    string           `gorm:"column:reward_id;index;not null" json:"reward_id"`
	CenterID    string           `gorm:"column:center_id;index;not null" json:"center_id"`
	PointsCost  int64            `gorm:"column:points_cost;not null" json:"points_cost"`
	Status      RedemptionStatus `gorm:"column:status;type:varchar(10);not null;default:'pending'" json:"status"`
	Notes       string           `gorm:"column:notes;type:text" json:"notes,omitempty"`
	ProcessedAt *time.Time       `gorm:"column:processed_at" json:"processed_at,omitempty"`
	ProcessedBy string           `gorm:"column:processed_by" json:"processed_by,omitempty"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (RewardRedemption) TableName() string { return "reward_redemptions" }

// IsAvailable reports whether the reward can be redeemed right now, ignoring
// stock. Stock is checked separately because it needs a count query.
func (r *Reward) IsAvailable(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ExpiryDate != nil && !r.ExpiryDate.After(now) {
		return false
	}
	return true
}

// RewardWithAvailability is a catalog read model: the reward plus its
// computed availability. Remaining is nil for unlimited rewards.
type RewardWithAvailability struct {
	Reward
	Available bool   `json:"available"`
	Remaining *int64 `json:"remaining,omitempty"`
}

// Actor identifies who is processing a redemption.
type Actor struct {
	ID       string
	CenterID string
	IsAdmin  bool
}

// Decision is the approve/reject verdict on a pending redemption. Both the
// imperative and past-tense spellings are accepted on the wire.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TargetStatus maps the decision to the redemption status it produces, or
// false for an unrecognized decision.
func (d Decision) TargetStatus() (RedemptionStatus, bool) {
	switch d {
	case DecisionApprove, Decision(StatusApproved):
		return StatusApproved, true
	case DecisionReject, Decision(StatusRejected):
		return StatusRejected, true
	default:
		return "", false
	}
}

// BatchResult reports the outcome for one redemption in a batch. Error is
// empty on success.
type BatchResult struct {
	RedemptionID string `json:"redemption_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}
