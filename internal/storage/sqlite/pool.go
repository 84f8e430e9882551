// Package sqlite — HiveBase 的 SQLite 存储适配层：连接池、项目库定位与查询路由。
// file: internal/storage/sqlite/pool.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"HiveBase/internal/core/port"
	"HiveBase/internal/observe"

	_ "modernc.org/sqlite"
)

const (
	// defaultIdleTTL 是空闲连接的最大保活时间，超时且无引用的句柄会被回收。
	defaultIdleTTL = 5 * time.Minute

	// reapInterval 是空闲回收器的扫描周期。
	reapInterval = time.Minute
)

// pooledConn 是池内单个数据库句柄的簿记信息。
type pooledConn struct {
	db       *sql.DB
	refs     int       // 未释放的 acquire 计数
	lastUsed time.Time // 最近一次 acquire/release 时间，用于空闲回收
}

// Pool 按数据库文件路径持有惰性创建、引用计数的连接。
// 同一路径的并发 acquire 共享同一个底层句柄 (SQLite 自身串行化写入)，
// 但 acquire/release 的簿记必须由池自己串行化，避免句柄泄漏。
type Pool struct {
	mu      sync.Mutex
	conns   map[string]*pooledConn
	idleTTL time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPool 创建连接池并启动空闲回收器。idleTTL <= 0 时使用默认值。
func NewPool(idleTTL time.Duration) *Pool {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	p := &Pool{
		conns:   make(map[string]*pooledConn),
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire 返回指定路径的数据库句柄，必要时首次打开。
// 打开失败 (磁盘错误、文件损坏) 时错误归类为 ErrIO 并原样上抛，池不自动重试。
func (p *Pool) Acquire(ctx context.Context, path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	observe.AcquireTotal.Inc()

	if pc, ok := p.conns[path]; ok {
		pc.refs++
		pc.lastUsed = time.Now()
		return pc.db, nil
	}

	// WAL 提高并发性能，busy_timeout 容忍写锁竞争，外键约束始终开启。
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sql.Open '%s' 失败: %v", port.ErrIO, path, err)
	}

	// sql.Open 不会立即建立连接，Ping 才真正触碰文件。
	if errPing := db.PingContext(ctx); errPing != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping 数据库 '%s' 失败: %v", port.ErrIO, path, errPing)
	}

	p.conns[path] = &pooledConn{db: db, refs: 1, lastUsed: time.Now()}
	observe.OpenHandles.Set(float64(len(p.conns)))
	log.Printf("信息: [Pool] 已打开数据库句柄: %s (当前句柄数: %d)", path, len(p.conns))
	return db, nil
}

// Release 归还一次 acquire。幂等：对未持有的路径或已归零的条目调用是无害的。
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[path]
	if !ok || pc.refs == 0 {
		return
	}
	pc.refs--
	pc.lastUsed = time.Now()
}

// Outstanding 返回当前所有路径上未释放的 acquire 总数，供测试断言释放不变量。
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, pc := range p.conns {
		total += pc.refs
	}
	return total
}

// Invalidate 立即关闭并移除指定路径的句柄，不论引用计数。
// 用于项目库被删除或文件被外部移走的场景。
func (p *Pool) Invalidate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[path]
	if !ok {
		return
	}
	if errClose := pc.db.Close(); errClose != nil {
		log.Printf("警告: [Pool] 关闭数据库 '%s' 时发生错误: %v", path, errClose)
	}
	delete(p.conns, path)
	observe.OpenHandles.Set(float64(len(p.conns)))
	log.Printf("信息: [Pool] 已失效并关闭数据库句柄: %s", path)
}

// Close 关闭池内全部句柄并停止回收器。
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for path, pc := range p.conns {
		if errClose := pc.db.Close(); errClose != nil && firstErr == nil {
			firstErr = fmt.Errorf("关闭数据库 '%s' 失败: %w", path, errClose)
		}
		delete(p.conns, path)
	}
	observe.OpenHandles.Set(0)
	return firstErr
}

// reapLoop 周期性关闭超过空闲时限且无引用的句柄。
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reapIdle(time.Now())
		}
	}
}

// reapIdle 回收一轮空闲连接。以时间参数注入便于测试。
func (p *Pool) reapIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for path, pc := range p.conns {
		if pc.refs > 0 || now.Sub(pc.lastUsed) < p.idleTTL {
			continue
		}
		if errClose := pc.db.Close(); errClose != nil {
			log.Printf("警告: [Pool] 回收空闲数据库 '%s' 时关闭失败: %v", path, errClose)
		}
		delete(p.conns, path)
		log.Printf("信息: [Pool] 已回收空闲数据库句柄: %s", path)
	}
	observe.OpenHandles.Set(float64(len(p.conns)))
}
