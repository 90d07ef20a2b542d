package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rtheme/internal/db"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestFlushService(rdb *redis.Client, now time.Time) *FlushService {
	return NewFlushService(db.DB, rdb, NewSettingService(db.DB)).
		WithClock(func() time.Time { return now })
}

func TestFlushDrainsTrackedEvents(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()
	rdb := setupTestRedis(t)

	ctx := context.Background()
	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)
	tracker := NewTrackService(rdb)

	events := []TrackedView{
		{Timestamp: now.Add(-3 * time.Hour), Path: "/posts/hello", Referer: "https://example.com/a", VisitorID: "v1"},
		{Timestamp: now.Add(-2 * time.Hour), Path: "/posts/hello", VisitorID: "v2"},
		{Timestamp: now.Add(-1 * time.Hour), Path: "/about", VisitorID: "v1"},
	}
	for _, event := range events {
		if err := tracker.Track(ctx, event); err != nil {
			t.Fatalf("track failed: %v", err)
		}
	}

	result, err := newTestFlushService(rdb, now).Flush(ctx)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if !result.Success || result.FlushedCount != 3 {
		t.Fatalf("expected 3 flushed events, got %+v", result)
	}
	if result.SyncedViewCountRows != 2 {
		t.Fatalf("expected 2 synced counter rows, got %d", result.SyncedViewCountRows)
	}

	pending, err := tracker.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if pending != 0 {
		t.Fatalf("buffer should be drained, got %d pending", pending)
	}

	var rows []db.PageView
	if err := db.DB.Order("timestamp").Find(&rows).Error; err != nil {
		t.Fatalf("load rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 page view rows, got %d", len(rows))
	}
	if rows[0].Referer == nil || *rows[0].Referer != "https://example.com/a" {
		t.Fatalf("referer should survive the round trip, got %+v", rows[0])
	}
	if rows[1].Referer != nil {
		t.Fatal("empty referer should be stored as NULL")
	}

	var counter db.PathCounter
	if err := db.DB.Where("path = ?", "/posts/hello").First(&counter).Error; err != nil {
		t.Fatalf("load counter failed: %v", err)
	}
	if counter.Views != 2 {
		t.Fatalf("expected counter 2, got %d", counter.Views)
	}
}

func TestFlushDropsMalformedEvents(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()
	rdb := setupTestRedis(t)

	ctx := context.Background()
	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

	if err := rdb.LPush(ctx, "analytics:events", "{not json").Err(); err != nil {
		t.Fatalf("seed garbage failed: %v", err)
	}
	if err := NewTrackService(rdb).Track(ctx, TrackedView{Timestamp: now, Path: "/ok", VisitorID: "v1"}); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	result, err := newTestFlushService(rdb, now).Flush(ctx)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if result.FlushedCount != 1 {
		t.Fatalf("malformed event should be dropped silently, got %+v", result)
	}
}

func TestFlushArchivesWholeDays(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()
	rdb := setupTestRedis(t)

	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

	// 保留窗口外的两个整天
	seedPageView(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), "/posts/a", "https://example.com/x", "v1")
	seedPageView(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), "/posts/a", "", "v2")
	seedPageView(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), "/posts/b", "", "v1")
	seedPageView(t, time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC), "/posts/a", "", "v3")
	// 窗口内的数据原样保留
	seedPageView(t, now.Add(-1*time.Hour), "/posts/c", "", "v4")

	result, err := newTestFlushService(rdb, now).Flush(context.Background())
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("flush should succeed, got %+v", result)
	}
	if result.ArchivedDateGroups != 2 || result.ArchivedRawPageViewDeleted != 4 {
		t.Fatalf("expected 2 archived days covering 4 rows, got %+v", result)
	}

	var archives []db.PageViewArchive
	if err := db.DB.Order("date").Find(&archives).Error; err != nil {
		t.Fatalf("load archives failed: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("expected 2 archive rows, got %d", len(archives))
	}
	first := archives[0]
	if first.TotalViews != 3 || first.UniqueVisitors != 2 {
		t.Fatalf("unexpected day rollup: %+v", first)
	}
	if first.PathStats["/posts/a"] != 2 || first.PathStats["/posts/b"] != 1 {
		t.Fatalf("unexpected path stats: %v", first.PathStats)
	}
	if first.RefererStats["https://example.com"] != 1 || first.RefererStats[DirectVisitLabel] != 2 {
		t.Fatalf("referers should be normalized at archive time: %v", first.RefererStats)
	}

	// 归档过的行必须离开热表，窗口内的行必须留下
	var hotRows []db.PageView
	if err := db.DB.Find(&hotRows).Error; err != nil {
		t.Fatalf("load hot rows failed: %v", err)
	}
	if len(hotRows) != 1 || hotRows[0].Path != "/posts/c" {
		t.Fatalf("only the in-window row should remain hot, got %+v", hotRows)
	}

	// 归档前后区间统计不变，既不丢数也不重复计数
	stats, err := NewRangeStatsService(db.DB).CollectRangeStats(Range{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC),
	}, false)
	if err != nil {
		t.Fatalf("collect stats failed: %v", err)
	}
	if stats.TotalViews != 5 {
		t.Fatalf("expected 5 total views across hot and archive, got %d", stats.TotalViews)
	}
}

func TestFlushExpiresOldArchives(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()
	rdb := setupTestRedis(t)

	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)

	stale := db.PageViewArchive{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), TotalViews: 10, UniqueVisitors: 5}
	fresh := db.PageViewArchive{Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), TotalViews: 3, UniqueVisitors: 2}
	if err := db.DB.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale archive failed: %v", err)
	}
	if err := db.DB.Create(&fresh).Error; err != nil {
		t.Fatalf("seed fresh archive failed: %v", err)
	}

	result, err := newTestFlushService(rdb, now).Flush(context.Background())
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if result.ExpiredArchiveDeleted != 1 {
		t.Fatalf("expected 1 expired archive, got %+v", result)
	}

	var remaining []db.PageViewArchive
	if err := db.DB.Find(&remaining).Error; err != nil {
		t.Fatalf("load archives failed: %v", err)
	}
	if len(remaining) != 1 || !remaining[0].Date.Equal(fresh.Date) {
		t.Fatalf("only the fresh archive should survive, got %+v", remaining)
	}
}
