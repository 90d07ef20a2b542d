package db

import "time"

// 健康检查整体与单项状态。
const (
	HealthStatusOK      = "OK"
	HealthStatusWarning = "WARNING"
	HealthStatusError   = "ERROR"
)

// HealthCheckItem 描述单个探测项的结果。
type HealthCheckItem struct {
	Value      string `json:"value"`
	DurationMs int64  `json:"durationMs"`
	Status     string `json:"status"`
}

// HealthCheck 保存一次体检任务的完整快照，创建后不可变。
type HealthCheck struct {
	ID           uint                       `gorm:"primaryKey"`
	Checks       map[string]HealthCheckItem `gorm:"serializer:json;type:text"`
	OkCount      int                        `gorm:"default:0"`
	WarningCount int                        `gorm:"default:0"`
	ErrorCount   int                        `gorm:"default:0"`
	Status       string                     `gorm:"size:16"`
	CreatedAt    time.Time
}

// TableName 指定自定义表名。
func (HealthCheck) TableName() string {
	return "health_checks"
}
