package db

import "gorm.io/gorm"

// SystemSetting 存储后台可配置的系统级键值对。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	// SettingKeySiteName 表示站点名称。
	SettingKeySiteName = "site_name"
	// SettingKeySiteURL 表示站点对外地址，用于自检探测与反链校验。
	SettingKeySiteURL = "site_url"

	// SettingKeyReportMode 表示报告投递方式：NONE/NOTICE/EMAIL/NOTICE_EMAIL。
	SettingKeyReportMode = "analytics_report_mode"
	// SettingKeyReportDaily 表示是否启用日报。
	SettingKeyReportDaily = "analytics_report_daily"
	// SettingKeyReportWeekly 表示是否启用周报。
	SettingKeyReportWeekly = "analytics_report_weekly"
	// SettingKeyReportMonthly 表示是否启用月报。
	SettingKeyReportMonthly = "analytics_report_monthly"
	// SettingKeyReportUIDs 表示报告接收人 UID 白名单，逗号或 JSON 数组。
	SettingKeyReportUIDs = "analytics_report_uids"
	// SettingKeyReportTimezone 表示报告统计所用的 IANA 时区。
	SettingKeyReportTimezone = "analytics_report_timezone"

	// SettingKeyLinkAutoManage 表示是否自动管理友链状态。
	SettingKeyLinkAutoManage = "friend_link_auto_manage"
	// SettingKeyLinkBacklinkCheck 表示是否校验对方页面反链。
	SettingKeyLinkBacklinkCheck = "friend_link_backlink_check"
)
