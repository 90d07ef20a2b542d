package service

import "fmt"

// 趋势方向颜色标记，供渲染层选用样式。
const (
	TrendColorUp   = "up"
	TrendColorDown = "down"
	TrendColorFlat = "flat"
)

// TrendResult 描述两个周期之间的变化趋势。
type TrendResult struct {
	Symbol string
	Text   string
	Color  string
}

// Trend 比较当前与上一周期的数值并给出方向信号。
// 上期为零时百分比无意义，增长以绝对值描述；该函数不依赖任何存储。
func Trend(current, previous int64) TrendResult {
	if previous <= 0 {
		if current <= 0 {
			return TrendResult{Symbol: "■", Text: "0", Color: TrendColorFlat}
		}
		return TrendResult{Symbol: "▲", Text: fmt.Sprintf("+%d", current), Color: TrendColorUp}
	}

	delta := current - previous
	if delta == 0 {
		return TrendResult{Symbol: "■", Text: "0", Color: TrendColorFlat}
	}

	percent := float64(delta) / float64(previous) * 100
	if delta > 0 {
		return TrendResult{Symbol: "▲", Text: fmt.Sprintf("%.1f%%", percent), Color: TrendColorUp}
	}
	return TrendResult{Symbol: "▼", Text: fmt.Sprintf("%.1f%%", -percent), Color: TrendColorDown}
}
