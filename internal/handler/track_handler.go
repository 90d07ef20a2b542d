package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rtheme/internal/service"
)

const (
	visitorCookieName   = "rt_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60
)

type trackRequest struct {
	Path    string `json:"path"`
	Referer string `json:"referer"`
}

// Track 接收一次页面访问事件并写入热缓冲。
// 访客指纹优先取自 Cookie，缺失时生成并种下一枚新的。
func (a *API) Track(c *gin.Context) {
	var payload trackRequest
	if !bindJSON(c, &payload, "请提供访问路径") {
		return
	}

	visitorID, err := c.Cookie(visitorCookieName)
	if err != nil || visitorID == "" {
		visitorID = uuid.NewString()
		c.SetCookie(visitorCookieName, visitorID, visitorCookieMaxAge, "/", "", false, true)
	}

	referer := payload.Referer
	if referer == "" {
		referer = c.GetHeader("Referer")
	}

	view := service.TrackedView{
		Timestamp: time.Now().UTC(),
		Path:      payload.Path,
		Referer:   referer,
		VisitorID: visitorID,
	}
	if err := a.tracker.Track(c.Request.Context(), view); err != nil {
		if err == service.ErrInvalidTrackedView {
			respondError(c, http.StatusBadRequest, "请提供访问路径")
			return
		}
		respondError(c, http.StatusInternalServerError, "访问事件写入失败")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
