package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// hotEventsKey 是原始访问事件在 Redis 中的热缓冲队列。
const hotEventsKey = "analytics:events"

// ErrInvalidTrackedView 在访问事件缺少必要字段时返回。
var ErrInvalidTrackedView = errors.New("tracked view requires path and visitor id")

// TrackedView 是一次待入库的访问事件。
type TrackedView struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Referer   string    `json:"referer,omitempty"`
	VisitorID string    `json:"visitorId"`
}

// TrackService 把访问事件写入 Redis 热缓冲，由归档引擎批量落库。
type TrackService struct {
	rdb *redis.Client
}

// NewTrackService 构造 TrackService。
func NewTrackService(rdb *redis.Client) *TrackService {
	return &TrackService{rdb: rdb}
}

// Track 记录一次访问。事件只进入热缓冲，不直接触达数据库。
func (s *TrackService) Track(ctx context.Context, view TrackedView) error {
	view.Path = strings.TrimSpace(view.Path)
	view.VisitorID = strings.TrimSpace(view.VisitorID)
	if view.Path == "" || view.VisitorID == "" {
		return ErrInvalidTrackedView
	}
	if view.Timestamp.IsZero() {
		view.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}

	return s.rdb.LPush(ctx, hotEventsKey, payload).Err()
}

// PendingCount 返回热缓冲中尚未落库的事件数量。
func (s *TrackService) PendingCount(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, hotEventsKey).Result()
}
