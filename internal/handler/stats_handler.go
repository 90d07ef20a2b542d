package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rtheme/internal/db"
	"github.com/rtheme/internal/service"
)

// StatsOverview 返回最近 N 天（默认 7 天，含今天）的聚合统计。
func (a *API) StatsOverview(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 366 {
			respondError(c, http.StatusBadRequest, "days 参数非法")
			return
		}
		days = parsed
	}

	settings, err := a.settings.ReportSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取统计配置失败")
		return
	}

	loc := service.LoadLocation(settings.Timezone)
	today := service.LocalToday(time.Now(), loc)
	rng := service.Range{Start: today.AddDate(0, 0, -(days - 1)), End: today.AddDate(0, 0, 1)}

	stats, err := a.stats.CollectRangeStats(rng, true)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "统计查询失败")
		return
	}

	pending, err := a.tracker.PendingCount(c.Request.Context())
	if err != nil {
		pending = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"range": gin.H{
			"start": rng.Start.Format("2006-01-02"),
			"end":   rng.End.Format("2006-01-02"),
		},
		"totalViews":     stats.TotalViews,
		"uniqueVisitors": stats.UniqueVisitors,
		"topPaths":       keyCountPayload(stats.TopPaths),
		"topReferers":    keyCountPayload(stats.TopReferers),
		"pendingEvents":  pending,
	})
}

// ListNotices 返回当前用户的未读通知。
func (a *API) ListNotices(c *gin.Context) {
	userID := sessionUserID(c)
	notices, err := a.notices.ListUnread(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取通知失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": noticesPayload(notices)})
}

// MarkNoticeRead 把一条通知标记为已读。
func (a *API) MarkNoticeRead(c *gin.Context) {
	noticeID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "通知 ID 非法")
		return
	}
	if err := a.notices.MarkRead(sessionUserID(c), noticeID); err != nil {
		respondError(c, http.StatusInternalServerError, "更新通知状态失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func keyCountPayload(items []service.KeyCount) []gin.H {
	payload := make([]gin.H, 0, len(items))
	for _, item := range items {
		payload = append(payload, gin.H{"key": item.Key, "count": item.Count})
	}
	return payload
}

func noticesPayload(notices []db.Notice) []gin.H {
	payload := make([]gin.H, 0, len(notices))
	for _, notice := range notices {
		payload = append(payload, gin.H{
			"id":        notice.ID,
			"title":     notice.Title,
			"content":   notice.Content,
			"link":      notice.Link,
			"createdAt": notice.CreatedAt,
		})
	}
	return payload
}
