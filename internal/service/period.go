package service

import "time"

// Cycle 表示报告周期。
type Cycle string

const (
	// CycleDaily 日报周期。
	CycleDaily Cycle = "daily"
	// CycleWeekly 周报周期，周一对齐。
	CycleWeekly Cycle = "weekly"
	// CycleMonthly 月报周期，自然月对齐。
	CycleMonthly Cycle = "monthly"
)

// Range 是一个左闭右开的日期区间 [Start, End)。
// 区间端点是目标时区的当地零点，所有日期运算都走日历而非毫秒差，
// 避免夏令时切换导致的偏差。
type Range struct {
	Start time.Time
	End   time.Time
}

// Days 返回区间覆盖的自然日数量。
func (r Range) Days() int {
	days := 0
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// LoadLocation 解析 IANA 时区名，解析失败时回退到 UTC。
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// LocalToday 返回 now 在 loc 时区下的当日零点。
func LocalToday(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// CycleRange 计算某周期在 today（当地零点）下对应的统计区间：
// 日报为昨天一整天，周报为最近一个周一之前的完整一周，月报为上一个自然月。
func CycleRange(cycle Cycle, today time.Time) Range {
	switch cycle {
	case CycleWeekly:
		// Go 的 Weekday 以周日为 0，转换成周一为 0 的偏移
		offset := (int(today.Weekday()) + 6) % 7
		end := today.AddDate(0, 0, -offset)
		return Range{Start: end.AddDate(0, 0, -7), End: end}
	case CycleMonthly:
		firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return Range{Start: firstOfMonth.AddDate(0, -1, 0), End: firstOfMonth}
	default:
		return Range{Start: today.AddDate(0, 0, -1), End: today}
	}
}

// PreviousRange 返回紧邻 current 之前、长度相等的上一个周期。
func PreviousRange(cycle Cycle, current Range) Range {
	if cycle == CycleMonthly {
		return Range{Start: current.Start.AddDate(0, -1, 0), End: current.Start}
	}
	days := current.Days()
	return Range{Start: current.Start.AddDate(0, 0, -days), End: current.Start}
}

// CycleDue 判断某周期在 today 是否到期：日报每天到期，
// 周报仅在周一到期，月报仅在每月 1 号到期。
func CycleDue(cycle Cycle, today time.Time) bool {
	switch cycle {
	case CycleWeekly:
		return today.Weekday() == time.Monday
	case CycleMonthly:
		return today.Day() == 1
	default:
		return true
	}
}

// PeriodLabel 返回周期的中文展示名。
func PeriodLabel(cycle Cycle) string {
	switch cycle {
	case CycleWeekly:
		return "周报"
	case CycleMonthly:
		return "月报"
	default:
		return "日报"
	}
}
