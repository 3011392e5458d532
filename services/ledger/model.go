package ledger

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TypeEarned TransactionType = "earned"
	TypeSpent  TransactionType = "spent"
)

func (t TransactionType) Valid() bool {
	return t == TypeEarned || t == TypeSpent
}

type Category string

const (
	CategoryRecycling  Category = "recycling"
	CategoryRedemption Category = "reward_redemption"
	CategoryBonus      Category = "bonus"
	CategoryRefund     Category = "refund"
	CategoryTransfer   Category = "transfer"
	CategoryOther      Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryRecycling, CategoryRedemption, CategoryBonus, CategoryRefund, CategoryTransfer, CategoryOther:
		return true
	default:
		return false
	}
}

// SourceKind tags the record a transaction originated from. Together with
// SourceID it forms a typed reference instead of an open-ended type+id pair.
type SourceKind string

const (
	SourceRecyclingEvent SourceKind = "recycling_event"
	SourceRedemption     SourceKind = "reward_redemption"
	SourceManual         SourceKind = "manual"
)

// Source is the tagged reference to the originating record. Kind is empty
// for transactions with no originating record.
type Source struct {
	Kind SourceKind `gorm:"column:source_kind;index" json:"kind,omitempty"`
	ID   string     `gorm:"column:source_id;index" json:"id,omitempty"`
}

// PointsTransaction is an immutable ledger fact. Rows are only ever inserted;
// an incorrect transaction is corrected by posting an offsetting transaction.
type PointsTransaction struct {
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	UserID      string          `gorm:"column:user_id;index;not null" json:"user_id"`
	CenterID    string          `gorm:"column:center_id;index" json:"center_id,omitempty"`
	Points      int64           `gorm:"column:points;not null" json:"points"`
	Type        TransactionType `gorm:"column:type;type:varchar(10);not null" json:"type"`
	Category    Category        `gorm:"column:category;type:varchar(30);not null" json:"category"`
	Description string          `gorm:"column:description;type:text" json:"description"`
	Source      Source          `gorm:"embedded" json:"source"`
	Metadata    datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at;index" json:"created_at"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }

type Timeframe string

const (
	TimeframeAll   Timeframe = "all"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// Since returns the window start for the timeframe, or false for "all".
// Rolling windows (7/30/365 days back from now) rather than calendar
// boundaries.
func (t Timeframe) Since(now time.Time) (time.Time, bool) {
	switch t {
	case TimeframeWeek:
		return now.AddDate(0, 0, -7), true
	case TimeframeMonth:
		return now.AddDate(0, -1, 0), true
	case TimeframeYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeAll, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return true
	default:
		return false
	}
}

// Filter narrows a ledger query. Zero values mean "no constraint".
type Filter struct {
	UserID   string
	CenterID string
	Type     TransactionType
	Category Category
	From     time.Time
	To       time.Time
	Cursor   string
	Limit    int
}

type LeaderboardRow struct {
	UserID  string `json:"user_id"`
	Earned  int64  `json:"earned"`
	Spent   int64  `json:"spent"`
	Balance int64  `json:"balance"`
}
