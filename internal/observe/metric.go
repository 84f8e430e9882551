// Package observe 暴露 Prometheus 指标
package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	OpenHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivebase_pool_open_handles",
		Help: "连接池当前持有的数据库句柄数",
	})
	AcquireTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivebase_pool_acquire_total",
		Help: "连接获取总次数",
	})
	QueryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hivebase_router_queries_total",
		Help: "路由层执行的语句总数",
	}, []string{"target", "op"})
	RepairRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivebase_repair_runs_total",
		Help: "自动修复执行次数",
	})
	DriftDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hivebase_schema_drift_detected_total",
		Help: "检测到 Schema 漂移的次数",
	})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(OpenHandles, AcquireTotal, QueryTotal, RepairRuns, DriftDetected)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }
