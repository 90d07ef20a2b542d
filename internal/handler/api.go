package handler

import (
	"github.com/go-redis/redis/v8"
	"github.com/rtheme/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db       *gorm.DB
	settings *service.SettingService
	tracker  *service.TrackService
	stats    *service.RangeStatsService
	notices  *service.NoticeService
	flusher  *service.FlushService
	reports  *service.ReportService
	doctor   *service.DoctorService
	projects *service.ProjectSyncService
	links    *service.LinkCheckService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, rdb *redis.Client, email service.EmailSender) *API {
	settings := service.NewSettingService(gdb)
	stats := service.NewRangeStatsService(gdb)
	notices := service.NewNoticeService(gdb)
	flusher := service.NewFlushService(gdb, rdb, settings)

	return &API{
		db:       gdb,
		settings: settings,
		tracker:  service.NewTrackService(rdb),
		stats:    stats,
		notices:  notices,
		flusher:  flusher,
		reports:  service.NewReportService(gdb, settings, stats, notices, email),
		doctor:   service.NewDoctorService(gdb, rdb, flusher, settings),
		projects: service.NewProjectSyncService(gdb),
		links:    service.NewLinkCheckService(gdb, settings),
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}
