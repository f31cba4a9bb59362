package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"go-mirror-coordinator/global"
	"go-mirror-coordinator/model"
	"go-mirror-coordinator/service"
)

// 略小于http.Server的WriteTimeout，保证超时作为显式结果返回
const _verifyTimeout = 8 * time.Second

func initHealthAction(handler *gin.Engine) {
	handler.GET("/health", health)
	handler.GET("/ready", ready)
	handler.GET("/metrics", metrics)
	handler.GET("/verify", verify)
}

// health 节点存活与角色信息，进程活着即200
func health(c *gin.Context) {
	body := gin.H{
		"node":         global.Cfg().NodeName,
		"is_leader":    service.IsLeader(),
		"leader":       service.Leader(),
		"subscription": service.SubscriptionState(),
		"breakers":     service.BreakerSnapshots(),
	}

	if svc := service.LeaseSvc(); svc != nil {
		if lease := svc.Lease(); lease != nil {
			body["lease"] = lease
		}
	}

	c.JSON(http.StatusOK, body)
}

// ready 就绪探针
// A follower is always ready: it serves health traffic and can take over
// at any moment. A leader is ready only while the subscription listens.
func ready(c *gin.Context) {
	if !service.IsLeader() {
		c.JSON(http.StatusOK, gin.H{"ready": true, "role": "follower"})
		return
	}

	if service.SubscriptionState() != service.SubscriptionStateListening {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":        false,
			"role":         "leader",
			"subscription": service.SubscriptionState(),
		})
		return
	}

	// 只读熔断器状态，不触达下游
	for _, snap := range service.BreakerSnapshots() {
		if snap.Name == "control-plane" && snap.State == "OPEN" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":   false,
				"role":    "leader",
				"breaker": snap,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"ready": true, "role": "leader"})
}

// metrics 运行指标的JSON快照，prometheus exporter在独立端口
func metrics(c *gin.Context) {
	byStatus := map[model.MirrorStatus]int{}
	if store := service.MirrorStorage(); store != nil {
		if records, err := store.All(); err == nil {
			for _, record := range records {
				byStatus[record.Status]++
			}
		}
	}

	created, dropped, failed := service.Counters()
	c.JSON(http.StatusOK, gin.H{
		"is_leader":         service.IsLeader(),
		"uptime_seconds":    int64(service.Uptime().Seconds()),
		"subscription":      service.SubscriptionState(),
		"breakers":          service.BreakerSnapshots(),
		"mirrors_created":   created,
		"mirrors_dropped":   dropped,
		"mirrors_failed":    failed,
		"mirrors_by_status": byStatus,
		"last_error":        service.LastErrors(),
	})
}

// verify 按需触发一致性审计，带schema和table参数时只审计单表
// 只读路径，任意实例均可执行
func verify(c *gin.Context) {
	auditor := service.AuditorSvc()
	if auditor == nil {
		Err503(c, "auditor not initialized")
		return
	}

	schema := c.Query("schema")
	table := c.Query("table")
	if schema != "" && table != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), _verifyTimeout)
		defer cancel()
		result, err := auditor.RunTable(ctx, schema, table)
		if err != nil {
			Err404(c, err.Error())
			return
		}
		RespOK(c, result)
		return
	}

	results, err := auditor.RunOnce()
	if err != nil {
		Err500(c, err.Error())
		return
	}
	RespOK(c, results)
}
