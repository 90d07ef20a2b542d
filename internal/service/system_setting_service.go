package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportMode 表示报告投递方式。
type ReportMode string

const (
	// ReportModeNone 不投递。
	ReportModeNone ReportMode = "NONE"
	// ReportModeNotice 仅站内通知。
	ReportModeNotice ReportMode = "NOTICE"
	// ReportModeEmail 仅邮件。
	ReportModeEmail ReportMode = "EMAIL"
	// ReportModeNoticeEmail 站内通知与邮件双通道。
	ReportModeNoticeEmail ReportMode = "NOTICE_EMAIL"
)

// HasNotice 判断该模式是否包含站内通知通道。
func (m ReportMode) HasNotice() bool {
	return m == ReportModeNotice || m == ReportModeNoticeEmail
}

// HasEmail 判断该模式是否包含邮件通道。
func (m ReportMode) HasEmail() bool {
	return m == ReportModeEmail || m == ReportModeNoticeEmail
}

// ParseReportMode 解析投递方式，无法识别的值回退为 NONE。
func ParseReportMode(raw string) ReportMode {
	switch ReportMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ReportModeNotice:
		return ReportModeNotice
	case ReportModeEmail:
		return ReportModeEmail
	case ReportModeNoticeEmail:
		return ReportModeNoticeEmail
	default:
		return ReportModeNone
	}
}

// ReportSettings 描述报告分发所需的全部配置。
type ReportSettings struct {
	Mode          ReportMode
	Daily         bool
	Weekly        bool
	Monthly       bool
	RecipientUIDs []uint
	Timezone      string
	SiteName      string
	SiteURL       string
}

// LinkCheckSettings 描述友链巡检的配置。
type LinkCheckSettings struct {
	AutoManage    bool
	BacklinkCheck bool
	SiteURL       string
}

// SettingService 提供系统设置的键值读写与类型化投影。
type SettingService struct {
	db *gorm.DB
}

// NewSettingService 构造 SettingService。
func NewSettingService(gdb *gorm.DB) *SettingService {
	return &SettingService{db: gdb}
}

// Get 读取单个设置项，未设置时返回空字符串。
func (s *SettingService) Get(key string) (string, error) {
	values, err := s.GetAll([]string{key})
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// GetAll 批量读取设置项，未设置的键不会出现在结果中。
func (s *SettingService) GetAll(keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var records []db.SystemSetting
	if err := s.db.Where("key IN ?", keys).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	for _, record := range records {
		result[record.Key] = record.Value
	}
	return result, nil
}

// Set 写入单个设置项，存在则覆盖。
func (s *SettingService) Set(key, value string) error {
	return upsertSetting(s.db, key, value)
}

// ReportSettings 读取报告分发配置，缺失或非法的值回退到安全默认：
// 模式回退 NONE，时区回退 UTC，站点名回退 RTheme。
func (s *SettingService) ReportSettings() (ReportSettings, error) {
	values, err := s.GetAll([]string{
		db.SettingKeyReportMode,
		db.SettingKeyReportDaily,
		db.SettingKeyReportWeekly,
		db.SettingKeyReportMonthly,
		db.SettingKeyReportUIDs,
		db.SettingKeyReportTimezone,
		db.SettingKeySiteName,
		db.SettingKeySiteURL,
	})
	if err != nil {
		return ReportSettings{}, err
	}

	settings := ReportSettings{
		Mode:          ParseReportMode(values[db.SettingKeyReportMode]),
		Daily:         parseBool(values[db.SettingKeyReportDaily], true),
		Weekly:        parseBool(values[db.SettingKeyReportWeekly], true),
		Monthly:       parseBool(values[db.SettingKeyReportMonthly], true),
		RecipientUIDs: parseUIDList(values[db.SettingKeyReportUIDs]),
		Timezone:      strings.TrimSpace(values[db.SettingKeyReportTimezone]),
		SiteName:      strings.TrimSpace(values[db.SettingKeySiteName]),
		SiteURL:       strings.TrimSpace(values[db.SettingKeySiteURL]),
	}
	if settings.Timezone == "" {
		settings.Timezone = "UTC"
	}
	if settings.SiteName == "" {
		settings.SiteName = "RTheme"
	}
	return settings, nil
}

// LinkCheckSettings 读取友链巡检配置。
func (s *SettingService) LinkCheckSettings() (LinkCheckSettings, error) {
	values, err := s.GetAll([]string{
		db.SettingKeyLinkAutoManage,
		db.SettingKeyLinkBacklinkCheck,
		db.SettingKeySiteURL,
	})
	if err != nil {
		return LinkCheckSettings{}, err
	}

	return LinkCheckSettings{
		AutoManage:    parseBool(values[db.SettingKeyLinkAutoManage], false),
		BacklinkCheck: parseBool(values[db.SettingKeyLinkBacklinkCheck], false),
		SiteURL:       strings.TrimSpace(values[db.SettingKeySiteURL]),
	}, nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

func parseBool(raw string, fallback bool) bool {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseUIDList 同时容忍逗号分隔与 JSON 数组两种写法，非法项直接跳过。
func parseUIDList(raw string) []uint {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "[") {
		var items []json.Number
		if err := json.Unmarshal([]byte(value), &items); err == nil {
			uids := make([]uint, 0, len(items))
			for _, item := range items {
				if parsed, err := strconv.ParseUint(item.String(), 10, 32); err == nil && parsed > 0 {
					uids = append(uids, uint(parsed))
				}
			}
			return uids
		}
		return nil
	}

	parts := strings.Split(value, ",")
	uids := make([]uint, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parsed, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil || parsed == 0 {
			continue
		}
		uids = append(uids, uint(parsed))
	}
	return uids
}
