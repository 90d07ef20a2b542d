package service

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/db"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

var (
	reportMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	reportSanitizer = bluemonday.UGCPolicy()
)

// CycleOutcome 汇总单个周期的投递情况。
type CycleOutcome struct {
	Cycle       Cycle
	NoticesSent int
	EmailsSent  int
	ErrorCount  int
}

// DispatchResult 是一次报告分发的完整结果。所有失败都以
// 字符串形式收敛在 Errors 中，分发入口本身永不抛错。
type DispatchResult struct {
	Mode           ReportMode
	RecipientCount int
	NoticesSent    int
	EmailsSent     int
	Cycles         []CycleOutcome
	Errors         []string
}

// ReportService 负责判定到期周期、汇总统计并向接收人双通道分发报告。
type ReportService struct {
	db       *gorm.DB
	settings *SettingService
	stats    *RangeStatsService
	notices  *NoticeService
	email    EmailSender
	now      func() time.Time
}

// NewReportService 构造 ReportService。
func NewReportService(gdb *gorm.DB, settings *SettingService, stats *RangeStatsService, notices *NoticeService, email EmailSender) *ReportService {
	return &ReportService{
		db:       gdb,
		settings: settings,
		stats:    stats,
		notices:  notices,
		email:    email,
		now:      time.Now,
	}
}

// WithClock 替换时钟，主要面向测试场景。
func (s *ReportService) WithClock(now func() time.Time) *ReportService {
	if now != nil {
		s.now = now
	}
	return s
}

// Dispatch 执行一轮报告分发。flushSummary 是上游归档引擎本轮的执行
// 摘要，原样写进报告正文，不在此处重新推导。
// 周期串行处理以便错误归属清晰；周期内的接收人投递并发执行，
// 单个接收人的失败不影响其他人，也不影响其他周期。
func (s *ReportService) Dispatch(flushSummary *FlushResult) DispatchResult {
	result := DispatchResult{Mode: ReportModeNone}

	settings, err := s.settings.ReportSettings()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load report settings: %v", err))
		return result
	}
	result.Mode = settings.Mode

	if settings.Mode == ReportModeNone {
		return result
	}

	loc := LoadLocation(settings.Timezone)
	today := LocalToday(s.now(), loc)

	dueCycles := make([]Cycle, 0, 3)
	for _, candidate := range []struct {
		cycle   Cycle
		enabled bool
	}{
		{CycleDaily, settings.Daily},
		{CycleWeekly, settings.Weekly},
		{CycleMonthly, settings.Monthly},
	} {
		if candidate.enabled && CycleDue(candidate.cycle, today) {
			dueCycles = append(dueCycles, candidate.cycle)
		}
	}
	if len(dueCycles) == 0 {
		return result
	}

	recipients, err := s.resolveRecipients(settings.RecipientUIDs)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("resolve recipients: %v", err))
		return result
	}
	result.RecipientCount = len(recipients)
	if len(recipients) == 0 {
		result.Errors = append(result.Errors, "no report recipients resolved")
		return result
	}

	for _, cycle := range dueCycles {
		outcome := s.dispatchCycle(cycle, today, settings, recipients, flushSummary, &result)
		result.Cycles = append(result.Cycles, outcome)
		result.NoticesSent += outcome.NoticesSent
		result.EmailsSent += outcome.EmailsSent
	}

	log.Info().
		Str("mode", string(settings.Mode)).
		Int("recipients", result.RecipientCount).
		Int("notices", result.NoticesSent).
		Int("emails", result.EmailsSent).
		Int("errors", len(result.Errors)).
		Msg("analytics report dispatched")
	return result
}

func (s *ReportService) resolveRecipients(uids []uint) ([]db.User, error) {
	var users []db.User
	query := s.db.Model(&db.User{})
	if len(uids) > 0 {
		query = query.Where("id IN ?", uids)
	} else {
		query = query.Where("role IN ?", []string{db.RoleAdmin, db.RoleEditor})
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *ReportService) dispatchCycle(cycle Cycle, today time.Time, settings ReportSettings, recipients []db.User, flushSummary *FlushResult, result *DispatchResult) CycleOutcome {
	outcome := CycleOutcome{Cycle: cycle}

	current := CycleRange(cycle, today)
	previous := PreviousRange(cycle, current)

	currentStats, err := s.stats.CollectRangeStats(current, true)
	if err != nil {
		outcome.ErrorCount++
		result.Errors = append(result.Errors, fmt.Sprintf("cycle=%s collect current stats: %v", cycle, err))
		return outcome
	}
	previousStats, err := s.stats.CollectRangeStats(previous, false)
	if err != nil {
		outcome.ErrorCount++
		result.Errors = append(result.Errors, fmt.Sprintf("cycle=%s collect previous stats: %v", cycle, err))
		return outcome
	}

	viewTrend := Trend(currentStats.TotalViews, previousStats.TotalViews)
	visitorTrend := Trend(currentStats.UniqueVisitors, previousStats.UniqueVisitors)

	title := fmt.Sprintf("%s %s（%s ~ %s）",
		settings.SiteName, PeriodLabel(cycle),
		current.Start.Format("2006-01-02"),
		current.End.AddDate(0, 0, -1).Format("2006-01-02"))
	body := buildReportBody(currentStats, viewTrend, visitorTrend, flushSummary)
	htmlBody := renderReportHTML(body)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, recipient := range recipients {
		wg.Add(1)
		go func(user db.User) {
			defer wg.Done()

			if settings.Mode.HasNotice() {
				if err := s.notices.Send(user.ID, title, body, settings.SiteURL); err != nil {
					mu.Lock()
					outcome.ErrorCount++
					result.Errors = append(result.Errors, fmt.Sprintf("cycle=%s uid=%d notice: %v", cycle, user.ID, err))
					mu.Unlock()
				} else {
					mu.Lock()
					outcome.NoticesSent++
					mu.Unlock()
				}
			}

			// 未验证邮箱的接收人静默跳过邮件通道，站内通知不受影响
			if settings.Mode.HasEmail() && user.EmailVerified && strings.TrimSpace(user.Email) != "" {
				msg := EmailMessage{To: user.Email, Subject: title, HTML: htmlBody, Text: body}
				if err := s.email.Send(msg); err != nil {
					mu.Lock()
					outcome.ErrorCount++
					result.Errors = append(result.Errors, fmt.Sprintf("cycle=%s uid=%d email: %v", cycle, user.ID, err))
					mu.Unlock()
				} else {
					mu.Lock()
					outcome.EmailsSent++
					mu.Unlock()
				}
			}
		}(recipient)
	}
	wg.Wait()

	return outcome
}

func buildReportBody(stats RangeStats, viewTrend, visitorTrend TrendResult, flushSummary *FlushResult) string {
	var b strings.Builder

	b.WriteString("## 访问概况\n\n")
	fmt.Fprintf(&b, "- 总浏览量：%d（%s %s）\n", stats.TotalViews, viewTrend.Symbol, viewTrend.Text)
	fmt.Fprintf(&b, "- 独立访客：%d（%s %s）\n", stats.UniqueVisitors, visitorTrend.Symbol, visitorTrend.Text)

	if len(stats.TopPaths) > 0 {
		b.WriteString("\n## 热门页面\n\n")
		for i, item := range stats.TopPaths {
			fmt.Fprintf(&b, "%d. `%s` — %d\n", i+1, item.Key, item.Count)
		}
	}

	if len(stats.TopReferers) > 0 {
		b.WriteString("\n## 访问来源\n\n")
		for i, item := range stats.TopReferers {
			fmt.Fprintf(&b, "%d. %s — %d\n", i+1, item.Key, item.Count)
		}
	}

	if flushSummary != nil {
		b.WriteString("\n## 数据归档\n\n")
		fmt.Fprintf(&b, "- 本轮落库事件：%d\n", flushSummary.FlushedCount)
		fmt.Fprintf(&b, "- 同步计数行：%d\n", flushSummary.SyncedViewCountRows)
		fmt.Fprintf(&b, "- 归档日期组：%d\n", flushSummary.ArchivedDateGroups)
		fmt.Fprintf(&b, "- 清理原始记录：%d\n", flushSummary.ArchivedRawPageViewDeleted)
		fmt.Fprintf(&b, "- 清理过期归档：%d\n", flushSummary.ExpiredArchiveDeleted)
	}

	return b.String()
}

func renderReportHTML(markdown string) string {
	var buf bytes.Buffer
	if err := reportMarkdown.Convert([]byte(markdown), &buf); err != nil {
		// 渲染失败降级为纯文本，邮件仍可读
		return "<pre>" + markdown + "</pre>"
	}
	return string(reportSanitizer.SanitizeBytes(buf.Bytes()))
}
