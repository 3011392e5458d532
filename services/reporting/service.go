package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"greencycle-platform/pkg/config"
	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/rediskey"
	"greencycle-platform/services/award"
	"greencycle-platform/services/ledger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLeaderboardCacheTTL = 5 * time.Minute
	summaryCacheTTL            = 5 * time.Minute
)

// Service answers read-side questions about the platform. Its aggregations
// are derived from the ledger on every call; only the leaderboard may be
// served from a redis cache, which the spend path never reads.
type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	cfg    *config.Config
	ledger *ledger.Service
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Redis  *redis.Client `optional:"true"`
	Config *config.Config
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		rdb:    p.Redis,
		cfg:    p.Config,
		ledger: p.Ledger,
	}
}

type CenterSummary struct {
	CenterID      string `json:"center_id"`
	Earned        int64  `json:"earned"`
	Spent         int64  `json:"spent"`
	Transactions  int64  `json:"transactions"`
	DistinctUsers int64  `json:"distinct_users"`
}

// Summary totals a center's ledger activity within the timeframe. Results are
// served from a short-lived redis cache when one is configured; dashboard
// reads tolerate that staleness.
func (s *Service) Summary(ctx context.Context, centerID string, timeframe ledger.Timeframe) (*CenterSummary, error) {
	if !timeframe.Valid() {
		return nil, errutil.ValidationFailed("unsupported timeframe")
	}

	var center award.RecyclingCenter
	if err := s.db.WithContext(ctx).Where("id = ?", centerID).First(&center).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("recycling center not found")
		}
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, rediskey.BuildCenterSummaryKey(centerID, string(timeframe))).Bytes(); err == nil {
			var cached CenterSummary
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	query := s.db.WithContext(ctx).Model(&ledger.PointsTransaction{}).
		Select(
			"COALESCE(SUM(CASE WHEN type = ? THEN points ELSE 0 END), 0) AS earned, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN points ELSE 0 END), 0) AS spent, "+
				"COUNT(*) AS transactions, "+
				"COUNT(DISTINCT user_id) AS distinct_users",
			ledger.TypeEarned, ledger.TypeSpent,
		).
		Where("center_id = ?", centerID)

	if since, ok := timeframe.Since(time.Now().UTC()); ok {
		query = query.Where("created_at >= ?", since)
	}

	summary := CenterSummary{CenterID: centerID}
	if err := query.Scan(&summary).Error; err != nil {
		return nil, err
	}

	s.cacheSummary(ctx, &summary, timeframe)
	return &summary, nil
}

func (s *Service) cacheSummary(ctx context.Context, summary *CenterSummary, timeframe ledger.Timeframe) {
	if s.rdb == nil {
		return
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}

	key := rediskey.BuildCenterSummaryKey(summary.CenterID, string(timeframe))
	if err := s.rdb.Set(ctx, key, raw, summaryCacheTTL).Err(); err != nil {
		zap.L().Warn("failed to cache center summary",
			zap.String("center_id", summary.CenterID),
			zap.Error(err),
		)
	}
}

type MonthlyTotal struct {
	Month  string `json:"month"`
	Earned int64  `json:"earned"`
	Spent  int64  `json:"spent"`
}

// MonthlyTotals returns a per-month earned/spent series for the center over
// the last `months` calendar months, oldest first. Bucketing happens in Go to
// stay portable across the postgres and sqlite dialects.
func (s *Service) MonthlyTotals(ctx context.Context, centerID string, months int) ([]MonthlyTotal, error) {
	if months <= 0 {
		months = 6
	}
	if months > 24 {
		months = 24
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	var entries []ledger.PointsTransaction
	if err := s.db.WithContext(ctx).
		Select("points, type, created_at").
		Where("center_id = ? AND created_at >= ?", centerID, start).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	totals := make([]MonthlyTotal, months)
	index := make(map[string]int, months)
	for i := 0; i < months; i++ {
		month := start.AddDate(0, i, 0).Format("2006-01")
		totals[i] = MonthlyTotal{Month: month}
		index[month] = i
	}

	for _, e := range entries {
		i, ok := index[e.CreatedAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		if e.Type == ledger.TypeEarned {
			totals[i].Earned += e.Points
		} else {
			totals[i].Spent += e.Points
		}
	}
	return totals, nil
}

// TopUsers returns the leaderboard, preferring the redis cache when one is
// configured. A cache miss computes and caches the full leaderboardCacheSize
// set under the shared per-timeframe key, then returns the limit prefix, so a
// small request never shrinks what later, larger requests read from the
// cache. Staleness up to the cache TTL is acceptable here; spend decisions
// never read this path.
func (s *Service) TopUsers(ctx context.Context, limit int, timeframe ledger.Timeframe) ([]ledger.LeaderboardRow, error) {
	if !timeframe.Valid() {
		return nil, errutil.ValidationFailed("unsupported timeframe")
	}
	if limit <= 0 {
		limit = 10
	}

	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, rediskey.BuildLeaderboardKey(string(timeframe))).Bytes(); err == nil {
			var rows []ledger.LeaderboardRow
			if err := json.Unmarshal(raw, &rows); err == nil {
				if len(rows) > limit {
					rows = rows[:limit]
				}
				return rows, nil
			}
		}
	}

	rows, err := s.ledger.Leaderboard(ctx, leaderboardCacheSize, timeframe)
	if err != nil {
		return nil, err
	}

	s.cacheLeaderboard(ctx, timeframe, rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// RefreshLeaderboards re-materialises the cached leaderboard for every
// timeframe. A no-op without redis.
func (s *Service) RefreshLeaderboards(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}

	timeframes := []ledger.Timeframe{
		ledger.TimeframeAll,
		ledger.TimeframeWeek,
		ledger.TimeframeMonth,
		ledger.TimeframeYear,
	}
	for _, tf := range timeframes {
		rows, err := s.ledger.Leaderboard(ctx, leaderboardCacheSize, tf)
		if err != nil {
			return err
		}
		s.cacheLeaderboard(ctx, tf, rows)
	}
	return nil
}

// leaderboardCacheSize is how many rows each cached timeframe holds; callers
// requesting fewer get a prefix.
const leaderboardCacheSize = 100

func (s *Service) cacheLeaderboard(ctx context.Context, timeframe ledger.Timeframe, rows []ledger.LeaderboardRow) {
	if s.rdb == nil {
		return
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}

	ttl := s.cfg.Points.LeaderboardCacheTTL
	if ttl <= 0 {
		ttl = defaultLeaderboardCacheTTL
	}

	if err := s.rdb.Set(ctx, rediskey.BuildLeaderboardKey(string(timeframe)), raw, ttl).Err(); err != nil {
		zap.L().Warn("failed to cache leaderboard",
			zap.String("timeframe", string(timeframe)),
			zap.Error(err),
		)
	}
}
