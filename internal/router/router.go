package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rtheme/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由。
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("rtheme_session", store))

	r.GET("/api/health", api.HealthCheck)

	// 公开端点：访问埋点
	r.POST("/api/track", api.Track)

	r.POST("/api/auth/login", api.Login)
	r.POST("/api/auth/logout", api.Logout)

	// 需要认证的管理与任务触发端点
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/stats/overview", api.StatsOverview)
		auth.GET("/notices", api.ListNotices)
		auth.POST("/notices/:id/read", api.MarkNoticeRead)

		auth.GET("/settings", api.GetSystemSettings)
		auth.PUT("/settings", api.UpdateSystemSettings)

		cron := auth.Group("/cron")
		{
			cron.POST("/flush", api.RunFlush)
			cron.POST("/report", api.RunReport)
			cron.POST("/doctor", api.RunDoctor)
			cron.POST("/project-sync", api.RunProjectSync)
			cron.POST("/link-check", api.RunLinkCheck)
		}
	}

	return r
}
