// file: internal/transport/http/router/router.go
package router

import (
	"net/http"
	"strings"
	"time"

	"HiveBase/internal/observe"
	"HiveBase/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Health  *service.HealthService
	Repair  *service.RepairService
	ApiKeys *service.ApiKeyService
}

// New 创建并配置运维面的 Gin 路由器。
// 数据面 (项目/集合/文档的业务 API) 由上层产品网关承载，这里只暴露
// 健康检查、手动修复与指标三类端点。
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", healthzHandler(deps.Health))
	router.GET("/healthz/full", fullHealthHandler(deps.Health))
	router.GET("/metrics", gin.WrapH(observe.Handler()))

	opsGroup := router.Group("/ops")
	opsGroup.Use(adminKeyMiddleware(deps.ApiKeys))
	{
		opsGroup.POST("/repair", repairHandler(deps.Repair))
		opsGroup.POST("/repair/:projectID", repairProjectHandler(deps.Repair))
	}

	return router
}

// adminKeyMiddleware 要求 Authorization: Bearer <admin 范围令牌>。
func adminKeyMiddleware(apiKeys *service.ApiKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要 admin 密钥"})
			return
		}
		k, err := apiKeys.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的 admin 密钥"})
			return
		}
		if !apiKeys.Allow(k) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁"})
			return
		}
		c.Next()
	}
}

// healthzHandler 是探活端点：健康 200，否则 503。
func healthzHandler(health *service.HealthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := health.Check(c.Request.Context())
		status := http.StatusOK
		if !result.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}

// fullHealthHandler 返回四项子检查的完整体检报告。
// degraded 仍返回 200，只有 unhealthy 才返回 503。
func fullHealthHandler(health *service.HealthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := health.FullCheck(c.Request.Context())
		status := http.StatusOK
		if report.Status == service.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// repairHandler 手动触发一轮主库修复，返回逐项修复记录。
func repairHandler(repair *service.RepairService) gin.HandlerFunc {
	return func(c *gin.Context) {
		repairs, err := repair.Repair(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "修复失败: " + err.Error(), "repairs": repairs})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repairs": repairs})
	}
}

// repairProjectHandler 手动触发单个项目库的修复。
func repairProjectHandler(repair *service.RepairService) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("projectID")
		repairs, err := repair.RepairProject(c.Request.Context(), projectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "修复失败: " + err.Error(), "repairs": repairs})
			return
		}
		c.JSON(http.StatusOK, gin.H{"repairs": repairs})
	}
}
