package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rtheme/internal/db"
)

// HealthCheck 提供容器编排与监控系统使用的存活探测端点。
func (a *API) HealthCheck(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "up",
	})
}

type settingsRequest struct {
	Settings map[string]string `json:"settings"`
}

// 后台可写的设置键白名单，其余键拒绝写入。
var writableSettingKeys = map[string]bool{
	db.SettingKeySiteName:          true,
	db.SettingKeySiteURL:           true,
	db.SettingKeyReportMode:        true,
	db.SettingKeyReportDaily:       true,
	db.SettingKeyReportWeekly:      true,
	db.SettingKeyReportMonthly:     true,
	db.SettingKeyReportUIDs:        true,
	db.SettingKeyReportTimezone:    true,
	db.SettingKeyLinkAutoManage:    true,
	db.SettingKeyLinkBacklinkCheck: true,
}

// GetSystemSettings 返回当前系统设置。
func (a *API) GetSystemSettings(c *gin.Context) {
	keys := make([]string, 0, len(writableSettingKeys))
	for key := range writableSettingKeys {
		keys = append(keys, key)
	}

	values, err := a.settings.GetAll(keys)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取系统设置失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": values})
}

// UpdateSystemSettings 保存系统设置。
func (a *API) UpdateSystemSettings(c *gin.Context) {
	var payload settingsRequest
	if !bindJSON(c, &payload, "请提供设置项") {
		return
	}

	for key, value := range payload.Settings {
		if !writableSettingKeys[key] {
			respondError(c, http.StatusBadRequest, "设置键不允许写入: "+key)
			return
		}
		if err := a.settings.Set(key, value); err != nil {
			respondError(c, http.StatusInternalServerError, "保存系统设置失败")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"updated": len(payload.Settings)})
}
