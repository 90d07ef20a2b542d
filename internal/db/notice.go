package db

import "time"

// Notice 是站内通知，由报告分发等后台任务写入。
type Notice struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	Title     string `gorm:"size:256"`
	Content   string `gorm:"type:text"`
	Link      string `gorm:"size:1024"`
	Read      bool   `gorm:"default:false"`
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (Notice) TableName() string {
	return "notices"
}
