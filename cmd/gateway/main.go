// file: cmd/gateway/main.go

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"HiveBase/internal/config"
	"HiveBase/internal/observe"
	"HiveBase/internal/service"
	"HiveBase/internal/storage/sqlite"
	"HiveBase/internal/transport/http/router"

	_ "modernc.org/sqlite"
)

const version = "v0.3.0"

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("HiveBase Core %s 正在启动...", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("CRITICAL: 加载配置失败: %v", err)
	}

	observe.InitLogger(cfg.Log.Level)
	observe.Register()
	slog.Info("HiveBase Core starting up", "version", version)

	instanceDir := cfg.Instance.Dir
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		log.Fatalf("CRITICAL: 创建实例目录 '%s' 失败: %v", instanceDir, err)
	}
	slog.Info("实例目录就绪", "path", instanceDir)

	mainPath := filepath.Join(instanceDir, "main.db")
	mainDB, err := initMainDB(mainPath)
	if err != nil {
		log.Fatalf("CRITICAL: 初始化主数据库失败: %v", err)
	}
	defer func() {
		slog.Info("正在关闭主数据库连接...")
		if errClose := mainDB.Close(); errClose != nil {
			slog.Error("关闭主数据库时发生错误", "error", errClose)
		}
	}()

	if err := service.InitMainTables(mainDB); err != nil {
		log.Fatalf("CRITICAL: 初始化主库系统表失败: %v", err)
	}

	// 存储层: 连接池 → 定位器 → 路由器 → 文件监视器
	pool := sqlite.NewPool(cfg.Pool.IdleTTL)
	defer func() {
		if errClose := pool.Close(); errClose != nil {
			slog.Error("关闭连接池时发生错误", "error", errClose)
		}
	}()
	locator := sqlite.NewLocator(instanceDir, pool, service.CreateProjectTables)
	dbRouter := sqlite.NewRouter(pool, locator, mainPath)
	slog.Info("存储层: 连接池/定位器/路由器初始化完成")

	watcher := sqlite.NewWatcher(instanceDir, pool, locator)
	if err := watcher.Start(); err != nil {
		log.Fatalf("CRITICAL: 启动文件监视器失败: %v", err)
	}
	defer watcher.Stop()

	// 服务层
	repairService := service.NewRepairService(dbRouter, cfg.Admin.Email, cfg.Admin.Password)
	healthService := service.NewHealthService(dbRouter)
	apiKeyService := service.NewApiKeyService(dbRouter, repairService)
	slog.Info("服务层: 修复/健康/密钥服务初始化完成")

	// 启动体检: 不健康时先修一轮再继续，修不好也照常启动，
	// 运行期的漂移重试还有机会兜住。
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if report := healthService.FullCheck(bootCtx); report.Status != service.StatusHealthy {
		slog.Warn("启动体检未通过，执行一轮自动修复", "status", report.Status)
		repairs, errRepair := repairService.Repair(bootCtx)
		if errRepair != nil {
			slog.Error("启动修复失败", "error", errRepair)
		}
		for _, r := range repairs {
			slog.Info("启动修复", "action", r)
		}
	}
	bootCancel()

	httpRouter := router.New(router.Dependencies{
		Health:  healthService,
		Repair:  repairService,
		ApiKeys: apiKeyService,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: httpRouter,
	}

	go func() {
		slog.Info("HiveBase 内核启动成功，开始监听HTTP请求...", "address", addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", errServe)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
		os.Exit(1)
	}

	slog.Info("HTTP服务已成功关闭。")
	slog.Info("程序即将退出。")
}

// initMainDB 封装主数据库的打开与连通性检查
func initMainDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开/创建主数据库 '%s' 失败: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接主数据库 '%s' (Ping) 失败: %w", path, err)
	}
	return db, nil
}
