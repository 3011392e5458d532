package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"greencycle-platform/pkg/errutil"
	"greencycle-platform/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("settings",
	fx.Provide(NewService),
)

// Well-known setting keys.
const (
	KeyGlobalMultiplier = "points.global_multiplier"
)

const cacheTTL = 5 * time.Minute

type Setting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string { return "settings" }

// Service is the platform-wide settings store. Reads go through an optional
// redis cache; writes are write-through and invalidate the cached key, so a
// Get after Set always observes the new value.
type Service struct {
	db  *gorm.DB
	rdb *redis.Client
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, rdb: p.Redis}
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	if s.rdb != nil {
		if val, err := s.rdb.Get(ctx, rediskey.BuildSettingKey(key)).Result(); err == nil {
			return val, nil
		}
	}

	var setting Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errutil.NotFound("setting not found")
		}
		return "", err
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, rediskey.BuildSettingKey(key), setting.Value, cacheTTL).Err(); err != nil {
			zap.L().Warn("failed to cache setting", zap.String("key", key), zap.Error(err))
		}
	}

	return setting.Value, nil
}

// GetFloat returns the setting parsed as float64, or fallback when the key is
// absent or unparseable.
func (s *Service) GetFloat(ctx context.Context, key string, fallback float64) float64 {
	val, err := s.Get(ctx, key)
	if err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s *Service) Set(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return err
	}

	return s.Invalidate(ctx, key)
}

func (s *Service) Invalidate(ctx context.Context, key string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, rediskey.BuildSettingKey(key)).Err()
}

// Reload drops every cached setting so subsequent reads hit the database.
func (s *Service) Reload(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}

	iter := s.rdb.Scan(ctx, 0, rediskey.BuildSettingKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
