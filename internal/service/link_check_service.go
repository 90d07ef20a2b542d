package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
)

const (
	linkCheckBatchSize    = 100
	linkCheckHistoryLimit = 30
	linkCheckMaxBodyBytes = 512 * 1024
	linkCheckTimeout      = 10 * time.Second
)

// ErrUnsafeTarget 在目标地址未通过 SSRF 校验时返回。
var ErrUnsafeTarget = errors.New("target url is not a public http(s) address")

// 参与自动状态管理的状态集合。
var autoManageableStatuses = map[string]bool{
	db.LinkStatusPublished:  true,
	db.LinkStatusDisconnect: true,
	db.LinkStatusNoBacklink: true,
}

// LinkCheckOutcome 是单个友链的巡检结果。
type LinkCheckOutcome struct {
	LinkID    uint
	IssueType string
	NewStatus string
}

// LinkCheckSummary 汇总一轮友链巡检。
type LinkCheckSummary struct {
	Checked       int
	Healthy       int
	Disconnected  int
	NoBacklink    int
	StatusChanged int
	Outcomes      []LinkCheckOutcome
}

// LinkCheckService 巡检友链存活情况：带 SSRF 校验与响应大小上限的
// 计时请求、可选的反链校验、按 30 条封顶的滚动历史，以及可选的
// 自动状态管理。巡检按固定大小分批并发，批间串行，限制外连峰值。
type LinkCheckService struct {
	db           *gorm.DB
	settings     *SettingService
	http         httpDoer
	batchSize    int
	allowPrivate bool
	now          func() time.Time
}

// NewLinkCheckService 构造 LinkCheckService。
func NewLinkCheckService(gdb *gorm.DB, settings *SettingService) *LinkCheckService {
	return &LinkCheckService{
		db:        gdb,
		settings:  settings,
		http:      &http.Client{Timeout: linkCheckTimeout},
		batchSize: linkCheckBatchSize,
		now:       time.Now,
	}
}

// SetHTTPClient 替换 HTTP 客户端，主要面向测试场景。
func (s *LinkCheckService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: linkCheckTimeout}
		return
	}
	s.http = client
}

// WithBatchSize 调整并发批大小，主要面向测试场景。
func (s *LinkCheckService) WithBatchSize(size int) *LinkCheckService {
	if size > 0 {
		s.batchSize = size
	}
	return s
}

// AllowPrivateTargets 放开内网目标限制，仅供测试使用。
func (s *LinkCheckService) AllowPrivateTargets() *LinkCheckService {
	s.allowPrivate = true
	return s
}

// WithClock 替换时钟，主要面向测试场景。
func (s *LinkCheckService) WithClock(now func() time.Time) *LinkCheckService {
	if now != nil {
		s.now = now
	}
	return s
}

// Run 巡检所有非信任状态的友链。
func (s *LinkCheckService) Run(ctx context.Context) (LinkCheckSummary, error) {
	settings, err := s.settings.LinkCheckSettings()
	if err != nil {
		return LinkCheckSummary{}, err
	}

	var links []db.FriendLink
	if err := s.db.Where("status <> ?", db.LinkStatusTrusted).Find(&links).Error; err != nil {
		return LinkCheckSummary{}, err
	}

	summary := LinkCheckSummary{Outcomes: make([]LinkCheckOutcome, 0, len(links))}
	siteHost := hostOf(settings.SiteURL)

	// 分批并发，批间串行，外连数不随友链总量增长
	for start := 0; start < len(links); start += s.batchSize {
		end := start + s.batchSize
		if end > len(links) {
			end = len(links)
		}
		batch := links[start:end]

		outcomes := make(chan LinkCheckOutcome, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(link db.FriendLink) {
				defer wg.Done()
				outcomes <- s.checkLink(ctx, link, settings, siteHost)
			}(batch[i])
		}
		wg.Wait()
		close(outcomes)

		for outcome := range outcomes {
			summary.Checked++
			switch outcome.IssueType {
			case db.LinkIssueNone:
				summary.Healthy++
			case db.LinkIssueDisconnect:
				summary.Disconnected++
			case db.LinkIssueNoBacklink:
				summary.NoBacklink++
			}
			if outcome.NewStatus != "" {
				summary.StatusChanged++
			}
			summary.Outcomes = append(summary.Outcomes, outcome)
		}
	}

	log.Info().
		Int("checked", summary.Checked).
		Int("healthy", summary.Healthy).
		Int("disconnected", summary.Disconnected).
		Int("noBacklink", summary.NoBacklink).
		Int("statusChanged", summary.StatusChanged).
		Msg("friend link check completed")
	return summary, nil
}

func (s *LinkCheckService) checkLink(ctx context.Context, link db.FriendLink, settings LinkCheckSettings, siteHost string) LinkCheckOutcome {
	record := s.probeLink(ctx, link, settings, siteHost)

	// 最新记录排在最前，历史封顶 30 条
	history := append([]db.LinkCheckRecord{record}, link.CheckHistory...)
	if len(history) > linkCheckHistoryLimit {
		history = history[:linkCheckHistoryLimit]
	}

	outcome := LinkCheckOutcome{LinkID: link.ID, IssueType: record.IssueType}
	newStatus := link.Status
	if settings.AutoManage && autoManageableStatuses[link.Status] {
		if record.IssueType == db.LinkIssueNone {
			if link.Status == db.LinkStatusDisconnect || link.Status == db.LinkStatusNoBacklink {
				newStatus = db.LinkStatusPublished
			}
		} else if len(history) == linkCheckHistoryLimit && allFailed(history) {
			newStatus = record.IssueType
		}
	}
	if newStatus != link.Status {
		outcome.NewStatus = newStatus
	}

	checkedAt := s.now()
	updates := db.FriendLink{
		Status:        newStatus,
		CheckHistory:  history,
		LastCheckedAt: &checkedAt,
	}
	if err := s.db.Model(&db.FriendLink{}).Where("id = ?", link.ID).
		Select([]string{"status", "check_history", "last_checked_at"}).
		Updates(updates).Error; err != nil {
		log.Error().Err(err).Uint("link", link.ID).Msg("link check: persist result failed")
	}

	return outcome
}

// probeLink 对目标执行一次计时 GET 并分类结论。
func (s *LinkCheckService) probeLink(ctx context.Context, link db.FriendLink, settings LinkCheckSettings, siteHost string) db.LinkCheckRecord {
	record := db.LinkCheckRecord{
		Time:      s.now().UTC().Format(time.RFC3339),
		IssueType: db.LinkIssueDisconnect,
	}

	if err := s.validateTarget(link.URL); err != nil {
		return record
	}

	reqCtx, cancel := context.WithTimeout(ctx, linkCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link.URL, nil)
	if err != nil {
		return record
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	elapsed := time.Since(start).Milliseconds()
	record.ResponseTime = &elapsed
	if err != nil {
		return record
	}
	defer resp.Body.Close()

	record.StatusCode = &resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return record
	}

	record.IssueType = db.LinkIssueNone
	if settings.BacklinkCheck && !link.IgnoreBacklink && siteHost != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, linkCheckMaxBodyBytes))
		hasBacklink := err == nil && strings.Contains(strings.ToLower(string(body)), strings.ToLower(siteHost))
		record.HasBacklink = &hasBacklink
		if !hasBacklink {
			record.IssueType = db.LinkIssueNoBacklink
		}
	}
	return record
}

// validateTarget 限制巡检目标为公网 HTTP(S) 地址，防止 SSRF。
func (s *LinkCheckService) validateTarget(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrUnsafeTarget
	}
	host := parsed.Hostname()
	if host == "" {
		return ErrUnsafeTarget
	}
	if s.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if !publicIP(ip) {
			return ErrUnsafeTarget
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("resolve target %s: %w", host, err)
	}
	for _, ip := range ips {
		if !publicIP(ip) {
			return ErrUnsafeTarget
		}
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsUnspecified()
}

func allFailed(history []db.LinkCheckRecord) bool {
	for _, record := range history {
		if record.IssueType == db.LinkIssueNone {
			return false
		}
	}
	return true
}

func hostOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
