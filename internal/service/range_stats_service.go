package service

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
)

// DirectVisitLabel 是无来源访问统一归并后的展示值。
const DirectVisitLabel = "direct visit"

const topStatsLimit = 5

// KeyCount 是 Top-N 榜单中的一项。
type KeyCount struct {
	Key   string
	Count int64
}

// RangeStats 汇总某个日期区间内热数据与归档数据的统计结果。
type RangeStats struct {
	TotalViews     int64
	UniqueVisitors int64
	TopPaths       []KeyCount
	TopReferers    []KeyCount
}

// RangeStatsService 负责跨热表与归档表的区间统计。
type RangeStatsService struct {
	db *gorm.DB
}

// NewRangeStatsService 构造 RangeStatsService。
func NewRangeStatsService(gdb *gorm.DB) *RangeStatsService {
	return &RangeStatsService{db: gdb}
}

// CollectRangeStats 聚合 [rng.Start, rng.End) 内的访问数据。
// 热表按时间戳落在区间端点（目标时区当地零点对应的时刻）内筛选，
// 归档表按无时区的自然日筛选；同一天的数据只会存在于其中一侧，
// 因此两侧直接相加不会重复计数。
// includeTopN 为 false 时跳过路径/来源榜单查询，仅返回总量，
// 用于上一周期的对比统计。
func (s *RangeStatsService) CollectRangeStats(rng Range, includeTopN bool) (RangeStats, error) {
	var stats RangeStats

	// 区间端点统一转成 UTC 时刻再比较，等价于把库内 UTC 时间戳换算到
	// 目标时区后按当地日界筛选
	hotQuery := s.db.Model(&db.PageView{}).
		Where("timestamp >= ? AND timestamp < ?", rng.Start.UTC(), rng.End.UTC())

	var hotViews int64
	if err := hotQuery.Session(&gorm.Session{}).Count(&hotViews).Error; err != nil {
		return stats, err
	}

	var hotVisitors int64
	if err := hotQuery.Session(&gorm.Session{}).Distinct("visitor_id").Count(&hotVisitors).Error; err != nil {
		return stats, err
	}

	var archives []db.PageViewArchive
	if err := s.db.
		Where("date >= ? AND date < ?", naiveDay(rng.Start), naiveDay(rng.End)).
		Find(&archives).Error; err != nil {
		return stats, err
	}

	stats.TotalViews = hotViews
	stats.UniqueVisitors = hotVisitors
	for i := range archives {
		stats.TotalViews += archives[i].TotalViews
		stats.UniqueVisitors += archives[i].UniqueVisitors
	}

	if !includeTopN {
		return stats, nil
	}

	pathCounts, err := s.hotGroupCounts(rng, "path")
	if err != nil {
		return stats, err
	}
	refererCounts, err := s.hotGroupCounts(rng, "referer")
	if err != nil {
		return stats, err
	}

	// 先把两侧的计数并入同一个 map 再排序，避免对两份榜单分别取前五后
	// 丢失跨数据源的累加结果
	paths := make(map[string]int64, len(pathCounts))
	for key, count := range pathCounts {
		paths[key] += count
	}
	referers := make(map[string]int64, len(refererCounts))
	for key, count := range refererCounts {
		referers[NormalizeReferer(key)] += count
	}
	for i := range archives {
		for path, count := range archives[i].PathStats {
			paths[path] += count
		}
		for referer, count := range archives[i].RefererStats {
			referers[NormalizeReferer(referer)] += count
		}
	}

	stats.TopPaths = topCounts(paths, topStatsLimit)
	stats.TopReferers = topCounts(referers, topStatsLimit)
	return stats, nil
}

func (s *RangeStatsService) hotGroupCounts(rng Range, column string) (map[string]int64, error) {
	type groupRow struct {
		Label string
		Total int64
	}

	var rows []groupRow
	if err := s.db.Model(&db.PageView{}).
		Select("COALESCE("+column+", '') AS label, COUNT(*) AS total").
		Where("timestamp >= ? AND timestamp < ?", rng.Start.UTC(), rng.End.UTC()).
		Group("label").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Label] += row.Total
	}
	return counts, nil
}

// NormalizeReferer 把来源值归一化：空值与 unknown/null/direct 一律折叠为
// 直接访问，其余只保留 scheme://hostname，同一站点下的不同落地页合并统计。
// 该函数是幂等的，已归一化的值再处理一次结果不变。
func NormalizeReferer(raw string) string {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "", "unknown", "null", "direct", DirectVisitLabel:
		return DirectVisitLabel
	}

	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return DirectVisitLabel
	}

	return parsed.Scheme + "://" + parsed.Hostname()
}

func topCounts(counts map[string]int64, limit int) []KeyCount {
	items := make([]KeyCount, 0, len(counts))
	for key, count := range counts {
		items = append(items, KeyCount{Key: key, Count: count})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Key < items[j].Key
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// naiveDay 把当地零点转换成同一年月日的 UTC 零点，与归档表的无时区日期对齐。
func naiveDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
