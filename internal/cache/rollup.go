package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"TourCheckin/storage/redis"
)

const (
	// 每日汇总事件已发布的标记，(日期, 团期) 维度
	rollupPublishedPrefix = "rollup:published"

	rollupTTL = 72 * time.Hour
)

// TryMarkRollupPublished 抢占某天某个团期的汇总发布权，false 表示已经发布过
func TryMarkRollupPublished(ctx context.Context, date string, departureID int64) (bool, error) {
	key := redis.Key(rollupPublishedPrefix, date, strconv.FormatInt(departureID, 10))
	ok, err := redis.Client().SetNX(ctx, key, "1", rollupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark rollup published: %w", err)
	}
	return ok, nil
}

// UnmarkRollupPublished 发布失败时清除标记，下一次运行重试
func UnmarkRollupPublished(ctx context.Context, date string, departureID int64) error {
	key := redis.Key(rollupPublishedPrefix, date, strconv.FormatInt(departureID, 10))
	if err := redis.Client().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to unmark rollup published: %w", err)
	}
	return nil
}

// RollupMarkers 可注入的汇总标记
type RollupMarkers struct{}

func (RollupMarkers) TryMark(ctx context.Context, date string, departureID int64) (bool, error) {
	return TryMarkRollupPublished(ctx, date, departureID)
}

func (RollupMarkers) Unmark(ctx context.Context, date string, departureID int64) error {
	return UnmarkRollupPublished(ctx, date, departureID)
}
