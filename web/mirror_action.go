package web

import (
	"github.com/gin-gonic/gin"

	"go-mirror-coordinator/service"
)

func initMirrorAction(handler *gin.Engine) {
	handler.GET("/mirrors", listMirrors)
	handler.POST("/mirrors/retry", retryMirror)
}

func listMirrors(c *gin.Context) {
	store := service.MirrorStorage()
	if store == nil {
		Err503(c, "storage not initialized")
		return
	}

	records, err := store.All()
	if err != nil {
		Err500(c, err.Error())
		return
	}
	RespOK(c, records)
}

type retryRequest struct {
	Table string `json:"table" binding:"required"` //形如schema.table
}

// retryMirror 人工重试FAILED记录
func retryMirror(c *gin.Context) {
	if !service.IsLeader() {
		Err409(c, "only the leader can retry mirrors")
		return
	}

	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Err400(c, err.Error())
		return
	}

	orchestrator := service.OrchestratorSvc()
	if orchestrator == nil {
		Err503(c, "orchestrator not initialized")
		return
	}

	if err := orchestrator.Retry(req.Table); err != nil {
		Err400(c, err.Error())
		return
	}
	RespOK(c, "retry scheduled")
}
