package db

import "time"

// PageView 记录单次访问事件（热数据，按天归档后删除）。
type PageView struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index;index:idx_ts_path,composite:1;index:idx_ts_referer,composite:1"`
	Path      string    `gorm:"size:512;index:idx_ts_path,composite:2"`
	Referer   *string   `gorm:"size:1024;index:idx_ts_referer,composite:2"`
	VisitorID string    `gorm:"size:64;index"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (PageView) TableName() string {
	return "page_views"
}

// PageViewArchive 保存每个自然日的聚合快照（冷数据）。
// 同一天的数据要么存在于热表，要么存在于唯一一条归档记录，绝不重复。
type PageViewArchive struct {
	ID             uint             `gorm:"primaryKey"`
	Date           time.Time        `gorm:"uniqueIndex"`
	TotalViews     int64            `gorm:"default:0"`
	UniqueVisitors int64            `gorm:"default:0"`
	PathStats      map[string]int64 `gorm:"serializer:json;type:text"`
	RefererStats   map[string]int64 `gorm:"serializer:json;type:text"`
	CreatedAt      time.Time
}

// TableName 指定自定义表名。
func (PageViewArchive) TableName() string {
	return "page_view_archives"
}

// PathCounter 维护路径维度的累计浏览量，由归档引擎在落库时同步。
type PathCounter struct {
	ID        uint   `gorm:"primaryKey"`
	Path      string `gorm:"size:512;uniqueIndex"`
	Views     int64  `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定自定义表名。
func (PathCounter) TableName() string {
	return "path_counters"
}
