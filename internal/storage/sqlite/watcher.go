// file: internal/storage/sqlite/watcher.go
package sqlite

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 2 * time.Second

// Watcher 监视 projects 目录，当项目库文件被外部移除或替换时，
// 立即失效池内句柄并丢弃定位器的存在性标记，避免继续写一个幽灵文件。
type Watcher struct {
	root    string // instance 目录
	pool    *Pool
	locator *Locator

	eventTimers   map[string]*time.Timer // path -> 防抖计时器
	eventTimersMu sync.Mutex

	fsw *fsnotify.Watcher
}

// NewWatcher 创建监视器实例，Start 之前不产生任何系统资源。
func NewWatcher(root string, pool *Pool, locator *Locator) *Watcher {
	return &Watcher{
		root:        filepath.Clean(root),
		pool:        pool,
		locator:     locator,
		eventTimers: make(map[string]*time.Timer),
	}
}

// Start 启动文件系统监视 goroutine。
func (w *Watcher) Start() error {
	projectsDir := filepath.Join(w.root, "projects")
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return fmt.Errorf("创建项目库目录 '%s' 失败: %w", projectsDir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}
	w.fsw = fsw

	go func() {
		log.Printf("信息: [Watcher] 文件监视 goroutine 已启动。")
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					log.Printf("警告: [Watcher] 文件监视器事件通道已关闭。")
					return
				}
				w.handleFsEvent(event)
			case errWatch, ok := <-fsw.Errors:
				if !ok {
					log.Printf("警告: [Watcher] 文件监视器错误通道已关闭。")
					return
				}
				log.Printf("错误: [Watcher] 文件监视器报告错误: %v", errWatch)
			}
		}
	}()

	if err := fsw.Add(projectsDir); err != nil {
		log.Printf("错误: [Watcher] 添加项目库目录 '%s' 到监视器失败: %v", projectsDir, err)
		return err
	}
	log.Printf("信息: [Watcher] 已成功添加项目库目录 '%s' 到监视器。", projectsDir)
	return nil
}

// Stop 关闭底层监视器。
func (w *Watcher) Stop() {
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

// handleFsEvent 处理单个文件系统事件，带防抖。
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	cleanPath := filepath.Clean(event.Name)
	if !strings.HasSuffix(strings.ToLower(cleanPath), ".db") {
		return
	}

	w.eventTimersMu.Lock()
	defer w.eventTimersMu.Unlock()
	if timer, exists := w.eventTimers[cleanPath]; exists {
		timer.Stop()
	}
	w.eventTimers[cleanPath] = time.AfterFunc(debounceDuration, func() {
		w.processDebouncedEvent(cleanPath)
		w.eventTimersMu.Lock()
		delete(w.eventTimers, cleanPath)
		w.eventTimersMu.Unlock()
	})
}

// processDebouncedEvent 在防抖后实际处理 .db 文件的变更。
func (w *Watcher) processDebouncedEvent(path string) {
	projectID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// 文件被移除或重命名：失效句柄与存在性标记，后续访问触发重新建库。
		log.Printf("信息: [Watcher] 项目库文件 '%s' 已消失，失效其句柄与标记。", path)
		w.pool.Invalidate(path)
		w.locator.Forget(projectID)
		return
	}

	// 文件仍然存在 (创建或被外部重写)：丢弃旧句柄，下次访问重新打开。
	log.Printf("信息: [Watcher] 项目库文件 '%s' 发生变更，丢弃旧句柄。", path)
	w.pool.Invalidate(path)
}
