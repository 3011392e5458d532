package reporting

import (
	"context"

	"greencycle-platform/pkg/taskname"
	"greencycle-platform/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RegisterTaskHandlers wires the reporting task handlers into the asynq mux.
// Invoked by the worker binary only; the API binary never consumes tasks.
func RegisterTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.LeaderboardRefresh, svc.HandleLeaderboardRefresh)
	mux.HandleFunc(taskname.CenterSummaryWarm, svc.HandleCenterSummaryWarm)
}

func (s *Service) HandleLeaderboardRefresh(ctx context.Context, t *asynq.Task) error {
	if err := s.RefreshLeaderboards(ctx); err != nil {
		zap.L().Error("leaderboard refresh failed", zap.Error(err))
		return err
	}

	zap.L().Info("leaderboard cache refreshed")
	return nil
}

// HandleCenterSummaryWarm pre-computes summaries for active centers so the
// dashboard's first load after a quiet period is served from the cache.
// A no-op without redis, since Summary only caches when one is configured.
func (s *Service) HandleCenterSummaryWarm(ctx context.Context, t *asynq.Task) error {
	if s.rdb == nil {
		return nil
	}

	var centerIDs []string
	if err := s.db.WithContext(ctx).
		Table("recycling_centers").
		Where("is_active = ?", true).
		Pluck("id", &centerIDs).Error; err != nil {
		return err
	}

	for _, id := range centerIDs {
		for _, tf := range []ledger.Timeframe{ledger.TimeframeWeek, ledger.TimeframeMonth} {
			if _, err := s.Summary(ctx, id, tf); err != nil {
				zap.L().Warn("center summary warm failed",
					zap.String("center_id", id),
					zap.String("timeframe", string(tf)),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}
