package db

import "time"

// Project 表示一个展示在站点上的开源项目，可选与代码托管平台同步元数据。
type Project struct {
	ID                 uint             `gorm:"primaryKey"`
	Name               string           `gorm:"size:128"`
	RepoPath           string           `gorm:"size:256"`
	SyncEnabled        bool             `gorm:"default:false"`
	ContentSyncEnabled bool             `gorm:"default:false"`
	Stars              int64            `gorm:"default:0"`
	Forks              int64            `gorm:"default:0"`
	License            string           `gorm:"size:64"`
	Languages          map[string]int64 `gorm:"serializer:json;type:text"`
	Readme             string           `gorm:"type:text"`
	LastSyncedAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定自定义表名。
func (Project) TableName() string {
	return "projects"
}
