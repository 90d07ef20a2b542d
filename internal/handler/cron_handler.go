package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rtheme/internal/service"
)

// 后台任务触发端点：由外部调度器或管理员手工调用，
// 每个端点执行一轮任务并把结果对象原样返回。

// RunFlush 执行一轮热数据落库与归档。
func (a *API) RunFlush(c *gin.Context) {
	result, err := a.flusher.Flush(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "归档任务执行失败")
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunReport 先执行归档，再把归档摘要连同统计数据分发给接收人。
func (a *API) RunReport(c *gin.Context) {
	summary, err := a.flusher.Flush(c.Request.Context())
	var summaryRef = &summary
	if err != nil {
		// 归档失败不阻断报告，正文中省略归档摘要
		summaryRef = nil
	}

	result := a.reports.Dispatch(summaryRef)
	c.JSON(http.StatusOK, gin.H{
		"mode":           result.Mode,
		"recipientCount": result.RecipientCount,
		"noticesSent":    result.NoticesSent,
		"emailsSent":     result.EmailsSent,
		"cycles":         cyclesPayload(result.Cycles),
		"errors":         result.Errors,
	})
}

// RunDoctor 执行一轮体检并返回快照。
func (a *API) RunDoctor(c *gin.Context) {
	snapshot, err := a.doctor.Run(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "体检任务执行失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       snapshot.Status,
		"okCount":      snapshot.OkCount,
		"warningCount": snapshot.WarningCount,
		"errorCount":   snapshot.ErrorCount,
		"checks":       snapshot.Checks,
	})
}

// RunProjectSync 执行一轮项目元数据同步。
func (a *API) RunProjectSync(c *gin.Context) {
	summary, err := a.projects.Run(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "项目同步执行失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"synced":  summary.Synced,
		"failed":  summary.Failed,
		"results": summary.Results,
	})
}

// RunLinkCheck 执行一轮友链巡检。
func (a *API) RunLinkCheck(c *gin.Context) {
	summary, err := a.links.Run(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "友链巡检执行失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checked":       summary.Checked,
		"healthy":       summary.Healthy,
		"disconnected":  summary.Disconnected,
		"noBacklink":    summary.NoBacklink,
		"statusChanged": summary.StatusChanged,
	})
}

func cyclesPayload(cycles []service.CycleOutcome) []gin.H {
	payload := make([]gin.H, 0, len(cycles))
	for _, cycle := range cycles {
		payload = append(payload, gin.H{
			"cycle":       cycle.Cycle,
			"noticesSent": cycle.NoticesSent,
			"emailsSent":  cycle.EmailsSent,
			"errorCount":  cycle.ErrorCount,
		})
	}
	return payload
}
