package db

import "time"

// 友链状态。TRUSTED 跳过巡检，BLOCKED/PENDING 不参与自动状态管理。
const (
	LinkStatusPublished  = "PUBLISHED"
	LinkStatusPending    = "PENDING"
	LinkStatusTrusted    = "TRUSTED"
	LinkStatusBlocked    = "BLOCKED"
	LinkStatusDisconnect = "DISCONNECT"
	LinkStatusNoBacklink = "NO_BACKLINK"
)

// 巡检结论类型。
const (
	LinkIssueNone       = "NONE"
	LinkIssueDisconnect = "DISCONNECT"
	LinkIssueNoBacklink = "NO_BACKLINK"
)

// LinkCheckRecord 是一次友链巡检的结果，按时间倒序保存在 CheckHistory 中。
type LinkCheckRecord struct {
	Time         string `json:"time"`
	ResponseTime *int64 `json:"responseTime"`
	StatusCode   *int   `json:"statusCode"`
	IssueType    string `json:"issueType"`
	HasBacklink  *bool  `json:"hasBacklink,omitempty"`
}

// FriendLink 表示一个友链站点。
type FriendLink struct {
	ID              uint              `gorm:"primaryKey"`
	Name            string            `gorm:"size:128"`
	URL             string            `gorm:"size:1024"`
	Status          string            `gorm:"size:16;index;default:PENDING"`
	IgnoreBacklink  bool              `gorm:"default:false"`
	CheckHistory    []LinkCheckRecord `gorm:"serializer:json;type:text"`
	LastCheckedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 指定自定义表名。
func (FriendLink) TableName() string {
	return "friend_links"
}
