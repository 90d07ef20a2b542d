package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
)

// 数值探针的两级阈值：低于 warn 为 OK，低于 err 为 WARNING，否则 ERROR。
var (
	dbLatencyThresholds    = gradeThresholds{warn: 100, err: 300}     // ms
	dbConnThresholds       = gradeThresholds{warn: 50, err: 100}      // 连接数
	dbSizeThresholds       = gradeThresholds{warn: 512, err: 1024}    // MB
	redisLatencyThresholds = gradeThresholds{warn: 100, err: 300}     // ms
	siteLatencyThresholds  = gradeThresholds{warn: 500, err: 1500}    // ms
)

type gradeThresholds struct {
	warn float64
	err  float64
}

func (t gradeThresholds) classify(value float64) string {
	switch {
	case value < t.warn:
		return db.HealthStatusOK
	case value < t.err:
		return db.HealthStatusWarning
	default:
		return db.HealthStatusError
	}
}

// DoctorService 执行体检任务：并发运行一组探针，按阈值分级，
// 每轮固化一条不可变的体检快照。
type DoctorService struct {
	db       *gorm.DB
	rdb      *redis.Client
	flusher  *FlushService
	settings *SettingService
	http     httpDoer
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDoctorService 构造 DoctorService。
func NewDoctorService(gdb *gorm.DB, rdb *redis.Client, flusher *FlushService, settings *SettingService) *DoctorService {
	return &DoctorService{
		db:       gdb,
		rdb:      rdb,
		flusher:  flusher,
		settings: settings,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient 替换自检探测所用的 HTTP 客户端，主要面向测试场景。
func (s *DoctorService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.http = client
}

type probeResult struct {
	name string
	item db.HealthCheckItem
}

// Run 并发执行所有探针并固化快照。单个探针失败降级为该项 ERROR，
// 不会使整轮体检失败；整体状态取所有探针中的最差值。
func (s *DoctorService) Run(ctx context.Context) (*db.HealthCheck, error) {
	probes := []struct {
		name string
		fn   func(ctx context.Context) db.HealthCheckItem
	}{
		{"database_latency", s.probeDatabaseLatency},
		{"database_connections", s.probeDatabaseConnections},
		{"database_size", s.probeDatabaseSize},
		{"redis_latency", s.probeRedisLatency},
		{"site_latency", s.probeSiteLatency},
		{"flush_engine", s.probeFlushEngine},
	}

	results := make(chan probeResult, len(probes))
	var wg sync.WaitGroup
	for _, probe := range probes {
		wg.Add(1)
		go func(name string, fn func(ctx context.Context) db.HealthCheckItem) {
			defer wg.Done()
			results <- probeResult{name: name, item: fn(ctx)}
		}(probe.name, probe.fn)
	}
	wg.Wait()
	close(results)

	snapshot := &db.HealthCheck{
		Checks: make(map[string]db.HealthCheckItem, len(probes)),
		Status: db.HealthStatusOK,
	}
	for result := range results {
		snapshot.Checks[result.name] = result.item
		switch result.item.Status {
		case db.HealthStatusOK:
			snapshot.OkCount++
		case db.HealthStatusWarning:
			snapshot.WarningCount++
			if snapshot.Status == db.HealthStatusOK {
				snapshot.Status = db.HealthStatusWarning
			}
		default:
			snapshot.ErrorCount++
			snapshot.Status = db.HealthStatusError
		}
	}

	if err := s.db.Create(snapshot).Error; err != nil {
		return nil, err
	}

	log.Info().
		Str("status", snapshot.Status).
		Int("ok", snapshot.OkCount).
		Int("warning", snapshot.WarningCount).
		Int("error", snapshot.ErrorCount).
		Msg("doctor run completed")
	return snapshot, nil
}

func (s *DoctorService) probeDatabaseLatency(ctx context.Context) db.HealthCheckItem {
	start := time.Now()
	var one int
	err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
	elapsed := time.Since(start)

	if err != nil {
		return errorItem(err, elapsed)
	}
	ms := float64(elapsed.Milliseconds())
	return db.HealthCheckItem{
		Value:      fmt.Sprintf("%dms", elapsed.Milliseconds()),
		DurationMs: elapsed.Milliseconds(),
		Status:     dbLatencyThresholds.classify(ms),
	}
}

func (s *DoctorService) probeDatabaseConnections(ctx context.Context) db.HealthCheckItem {
	start := time.Now()
	sqlDB, err := s.db.DB()
	elapsed := time.Since(start)
	if err != nil {
		return errorItem(err, elapsed)
	}

	open := sqlDB.Stats().OpenConnections
	return db.HealthCheckItem{
		Value:      fmt.Sprintf("%d", open),
		DurationMs: elapsed.Milliseconds(),
		Status:     dbConnThresholds.classify(float64(open)),
	}
}

func (s *DoctorService) probeDatabaseSize(ctx context.Context) db.HealthCheckItem {
	start := time.Now()
	var sizeBytes int64
	err := s.db.WithContext(ctx).
		Raw("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").
		Scan(&sizeBytes).Error
	elapsed := time.Since(start)

	if err != nil {
		return errorItem(err, elapsed)
	}
	sizeMB := float64(sizeBytes) / 1024 / 1024
	return db.HealthCheckItem{
		Value:      fmt.Sprintf("%.1fMB", sizeMB),
		DurationMs: elapsed.Milliseconds(),
		Status:     dbSizeThresholds.classify(sizeMB),
	}
}

func (s *DoctorService) probeRedisLatency(ctx context.Context) db.HealthCheckItem {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		return errorItem(err, elapsed)
	}
	return db.HealthCheckItem{
		Value:      fmt.Sprintf("%dms", elapsed.Milliseconds()),
		DurationMs: elapsed.Milliseconds(),
		Status:     redisLatencyThresholds.classify(float64(elapsed.Milliseconds())),
	}
}

func (s *DoctorService) probeSiteLatency(ctx context.Context) db.HealthCheckItem {
	siteURL, err := s.settings.Get(db.SettingKeySiteURL)
	if err != nil || strings.TrimSpace(siteURL) == "" {
		return db.HealthCheckItem{
			Value:  "site url not configured",
			Status: db.HealthStatusWarning,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(siteURL), nil)
	if err != nil {
		return errorItem(err, 0)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return errorItem(err, elapsed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return db.HealthCheckItem{
			Value:      fmt.Sprintf("HTTP %d", resp.StatusCode),
			DurationMs: elapsed.Milliseconds(),
			Status:     db.HealthStatusError,
		}
	}
	return db.HealthCheckItem{
		Value:      fmt.Sprintf("%dms", elapsed.Milliseconds()),
		DurationMs: elapsed.Milliseconds(),
		Status:     siteLatencyThresholds.classify(float64(elapsed.Milliseconds())),
	}
}

func (s *DoctorService) probeFlushEngine(ctx context.Context) db.HealthCheckItem {
	start := time.Now()
	summary, err := s.flusher.Flush(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return errorItem(err, elapsed)
	}
	status := db.HealthStatusOK
	if !summary.Success {
		status = db.HealthStatusWarning
	}
	return db.HealthCheckItem{
		Value: fmt.Sprintf("flushed=%d archived=%d deleted=%d expired=%d",
			summary.FlushedCount, summary.ArchivedDateGroups,
			summary.ArchivedRawPageViewDeleted, summary.ExpiredArchiveDeleted),
		DurationMs: elapsed.Milliseconds(),
		Status:     status,
	}
}

func errorItem(err error, elapsed time.Duration) db.HealthCheckItem {
	return db.HealthCheckItem{
		Value:      err.Error(),
		DurationMs: elapsed.Milliseconds(),
		Status:     db.HealthStatusError,
	}
}
