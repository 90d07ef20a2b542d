package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHotRetentionDays     = 7
	defaultArchiveRetentionDays = 365
	flushDrainBatch             = 500
)

// FlushResult 汇总一次热数据落库与归档的执行情况，
// 体检探针与报告正文都会原样引用这些计数。
type FlushResult struct {
	Success                    bool  `json:"success"`
	FlushedCount               int   `json:"flushedCount"`
	SyncedViewCountRows        int   `json:"syncedViewCountRows"`
	ArchivedDateGroups         int   `json:"archivedDateGroups"`
	ArchivedRawPageViewDeleted int64 `json:"archivedRawPageViewDeleted"`
	ExpiredArchiveDeleted      int64 `json:"expiredArchiveDeleted"`
}

// FlushService 是热→冷数据迁移的唯一执行者：
// 把 Redis 缓冲中的事件落成行级记录，把滚出保留窗口的整天数据
// 压成归档行，并清理过期归档。按日期组逐个事务处理，保证任意一天
// 的数据要么在热表要么在归档表。
type FlushService struct {
	db                   *gorm.DB
	rdb                  *redis.Client
	settings             *SettingService
	hotRetentionDays     int
	archiveRetentionDays int
	now                  func() time.Time
}

// NewFlushService 构造 FlushService，默认热数据保留 7 天、归档保留 365 天。
func NewFlushService(gdb *gorm.DB, rdb *redis.Client, settings *SettingService) *FlushService {
	return &FlushService{
		db:                   gdb,
		rdb:                  rdb,
		settings:             settings,
		hotRetentionDays:     defaultHotRetentionDays,
		archiveRetentionDays: defaultArchiveRetentionDays,
		now:                  time.Now,
	}
}

// WithRetention 调整保留窗口，主要面向测试场景。
func (s *FlushService) WithRetention(hotDays, archiveDays int) *FlushService {
	if hotDays > 0 {
		s.hotRetentionDays = hotDays
	}
	if archiveDays > 0 {
		s.archiveRetentionDays = archiveDays
	}
	return s
}

// WithClock 替换时钟，主要面向测试场景。
func (s *FlushService) WithClock(now func() time.Time) *FlushService {
	if now != nil {
		s.now = now
	}
	return s
}

// Flush 执行一轮完整的落库与归档。单个日期组失败不会中断其余组，
// 但会把 Success 置为 false。
func (s *FlushService) Flush(ctx context.Context) (FlushResult, error) {
	result := FlushResult{Success: true}

	reportSettings, err := s.settings.ReportSettings()
	if err != nil {
		return FlushResult{}, err
	}
	loc := LoadLocation(reportSettings.Timezone)

	flushed, pathTotals, err := s.drainEvents(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	result.FlushedCount = flushed

	synced, err := s.syncPathCounters(pathTotals)
	if err != nil {
		log.Error().Err(err).Msg("flush: sync path counters failed")
		result.Success = false
	}
	result.SyncedViewCountRows = synced

	today := LocalToday(s.now(), loc)
	cutoff := today.AddDate(0, 0, -s.hotRetentionDays+1)

	groups, err := s.archivableDays(cutoff, loc)
	if err != nil {
		return result, err
	}

	for _, day := range groups {
		deleted, err := s.archiveDay(day, loc)
		if err != nil {
			log.Error().Err(err).Time("day", day).Msg("flush: archive day failed")
			result.Success = false
			continue
		}
		result.ArchivedDateGroups++
		result.ArchivedRawPageViewDeleted += deleted
	}

	expired, err := s.expireArchives(today)
	if err != nil {
		log.Error().Err(err).Msg("flush: expire archives failed")
		result.Success = false
	}
	result.ExpiredArchiveDeleted = expired

	log.Info().
		Int("flushed", result.FlushedCount).
		Int("archivedDays", result.ArchivedDateGroups).
		Int64("rawDeleted", result.ArchivedRawPageViewDeleted).
		Int64("expired", result.ExpiredArchiveDeleted).
		Msg("flush completed")
	return result, nil
}

// drainEvents 把 Redis 热缓冲中的事件批量搬进行级存储。
func (s *FlushService) drainEvents(ctx context.Context) (int, map[string]int64, error) {
	flushed := 0
	pathTotals := make(map[string]int64)
	batch := make([]db.PageView, 0, flushDrainBatch)

	for {
		raw, err := s.rdb.RPop(ctx, hotEventsKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return flushed, pathTotals, err
		}

		var view TrackedView
		if err := json.Unmarshal([]byte(raw), &view); err != nil || view.Path == "" {
			log.Warn().Str("payload", raw).Msg("flush: dropped malformed event")
			continue
		}

		row := db.PageView{
			Timestamp: view.Timestamp.UTC(),
			Path:      view.Path,
			VisitorID: view.VisitorID,
		}
		if view.Referer != "" {
			referer := view.Referer
			row.Referer = &referer
		}
		batch = append(batch, row)
		pathTotals[view.Path]++

		if len(batch) >= flushDrainBatch {
			if err := s.db.CreateInBatches(batch, flushDrainBatch).Error; err != nil {
				return flushed, pathTotals, err
			}
			flushed += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := s.db.CreateInBatches(batch, flushDrainBatch).Error; err != nil {
			return flushed, pathTotals, err
		}
		flushed += len(batch)
	}
	return flushed, pathTotals, nil
}

func (s *FlushService) syncPathCounters(pathTotals map[string]int64) (int, error) {
	synced := 0
	for path, views := range pathTotals {
		counter := db.PathCounter{Path: path, Views: views}
		if err := s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"views":      gorm.Expr("path_counters.views + ?", views),
				"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
			}),
		}).Create(&counter).Error; err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// archivableDays 找出早于 cutoff（当地零点）的所有待归档日期，按时间升序。
func (s *FlushService) archivableDays(cutoff time.Time, loc *time.Location) ([]time.Time, error) {
	var rows []db.PageView
	if err := s.db.Select("timestamp").Where("timestamp < ?", cutoff.UTC()).Find(&rows).Error; err != nil {
		return nil, err
	}

	seen := make(map[time.Time]struct{})
	for i := range rows {
		day := LocalToday(rows[i].Timestamp, loc)
		seen[day] = struct{}{}
	}

	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// archiveDay 在一个事务内把某天的热数据压成归档行并删除原始记录。
func (s *FlushService) archiveDay(day time.Time, loc *time.Location) (int64, error) {
	start := day
	end := day.AddDate(0, 0, 1)

	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rows []db.PageView
		if err := tx.Where("timestamp >= ? AND timestamp < ?", start.UTC(), end.UTC()).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		visitors := make(map[string]struct{})
		pathStats := make(map[string]int64)
		refererStats := make(map[string]int64)
		for i := range rows {
			visitors[rows[i].VisitorID] = struct{}{}
			pathStats[rows[i].Path]++
			referer := ""
			if rows[i].Referer != nil {
				referer = *rows[i].Referer
			}
			refererStats[NormalizeReferer(referer)]++
		}

		archive := db.PageViewArchive{
			Date:           naiveDay(day),
			TotalViews:     int64(len(rows)),
			UniqueVisitors: int64(len(visitors)),
			PathStats:      pathStats,
			RefererStats:   refererStats,
		}
		if err := tx.Create(&archive).Error; err != nil {
			return err
		}

		res := tx.Where("timestamp >= ? AND timestamp < ?", start.UTC(), end.UTC()).Delete(&db.PageView{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

func (s *FlushService) expireArchives(today time.Time) (int64, error) {
	cutoff := naiveDay(today.AddDate(0, 0, -s.archiveRetentionDays))
	res := s.db.Where("date < ?", cutoff).Delete(&db.PageViewArchive{})
	return res.RowsAffected, res.Error
}
