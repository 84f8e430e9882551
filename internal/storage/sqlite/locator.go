// file: internal/storage/sqlite/locator.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"HiveBase/internal/core/port"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	// existenceTTL 是建库完成标记的缓存时间。标记只是加速手段，
	// 过期后 Ensure 多走一轮 singleflight 与 os.Stat。
	existenceTTL = 10 * time.Minute
)

// ProvisionFunc 在新建项目库后对其执行基础建表。由调用方注入 (通常是
// service.CreateProjectTables)，避免定位器反向依赖业务层。
type ProvisionFunc func(ctx context.Context, db *sql.DB) error

// Locator 将项目 ID 映射到物理库文件，并在首次访问时惰性建库。
type Locator struct {
	root      string // instance 目录
	pool      *Pool
	provision ProvisionFunc

	ensureGroup singleflight.Group // projectID -> 建库收敛
	seen        *gocache.Cache     // projectID -> struct{}，只在建表成功后写入
}

// 静态断言，确保 *Locator 实现 port.Locator 接口。
var _ port.Locator = (*Locator)(nil)

// NewLocator 创建项目库定位器。root 是 instance 目录。
func NewLocator(root string, pool *Pool, provision ProvisionFunc) *Locator {
	if provision == nil {
		log.Fatal("[Locator] 致命错误: ProvisionFunc 不能为 nil。")
	}
	return &Locator{
		root:      filepath.Clean(root),
		pool:      pool,
		provision: provision,
		seen:      gocache.New(existenceTTL, 2*existenceTTL),
	}
}

// PathFor 返回项目库文件的确定性路径: <root>/projects/<id>.db。
func (l *Locator) PathFor(projectID string) string {
	return filepath.Join(l.root, "projects", projectID+".db")
}

// Exists 判断项目库是否已物化，不发起任何查询。
// 标记未命中时回退到一次 os.Stat，但绝不反向写标记:
// seen 只记录"建表已完成"，由 Ensure 的成功路径独占写入。
func (l *Locator) Exists(projectID string) bool {
	if _, ok := l.seen.Get(projectID); ok {
		return true
	}
	_, err := os.Stat(l.PathFor(projectID))
	return err == nil
}

// Ensure 幂等地保证项目库存在，含基础表结构。
// 对同一个尚未建库的项目的并发调用通过 singleflight 收敛为一次建库，
// 落败方直接观察到已建好的状态而不是报错。
func (l *Locator) Ensure(ctx context.Context, projectID string) error {
	if projectID == "" {
		return fmt.Errorf("项目 ID 不能为空")
	}
	// 快路径只信任建库完成标记，不看文件系统: 赢家在建表期间
	// 库文件已经落在磁盘上，按文件判断会让并发调用者拿到半成品。
	if _, ok := l.seen.Get(projectID); ok {
		return nil
	}

	_, err, _ := l.ensureGroup.Do(projectID, func() (any, error) {
		// 进入临界区后重查一次，前一个赢家可能刚刚建完。
		if _, ok := l.seen.Get(projectID); ok {
			return nil, nil
		}

		path := l.PathFor(projectID)
		// 磁盘上已有的库文件必然是完整的: 建表失败的半成品在
		// 失败路径上已被移除，本进程建表期间其它调用被 singleflight 挡住。
		if _, errStat := os.Stat(path); errStat == nil {
			l.seen.SetDefault(projectID, struct{}{})
			return nil, nil
		}

		dir := filepath.Dir(path)
		if errMk := os.MkdirAll(dir, 0o755); errMk != nil {
			return nil, fmt.Errorf("%w: 创建项目库目录 '%s' 失败: %v", port.ErrIO, dir, errMk)
		}

		db, errAcq := l.pool.Acquire(ctx, path)
		if errAcq != nil {
			return nil, fmt.Errorf("首次打开项目库 '%s' 失败: %w", projectID, errAcq)
		}
		defer l.pool.Release(path)

		if errProv := l.provision(ctx, db); errProv != nil {
			// 建表失败时移除半成品文件，下次访问重新走完整建库流程。
			l.pool.Invalidate(path)
			_ = os.Remove(path)
			return nil, fmt.Errorf("项目 '%s' 基础建表失败: %w", projectID, errProv)
		}

		l.seen.SetDefault(projectID, struct{}{})
		log.Printf("信息: [Locator] 项目库已惰性建立: %s (路径: %s)", projectID, path)
		return nil, nil
	})
	return err
}

// Close 关闭项目库的活动连接 (若有)。
func (l *Locator) Close(projectID string) {
	l.pool.Invalidate(l.PathFor(projectID))
}

// Forget 丢弃存在性标记。文件被外部移除时由 watcher 调用。
func (l *Locator) Forget(projectID string) {
	l.seen.Delete(projectID)
}

// Delete 在调用方清空逻辑行之后移除物理库文件及其 WAL 附属文件。
func (l *Locator) Delete(projectID string) error {
	path := l.PathFor(projectID)
	l.pool.Invalidate(path)
	l.seen.Delete(projectID)

	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if errRm := os.Remove(f); errRm != nil && !os.IsNotExist(errRm) {
			return fmt.Errorf("%w: 删除项目库文件 '%s' 失败: %v", port.ErrIO, f, errRm)
		}
	}
	log.Printf("信息: [Locator] 项目库物理文件已删除: %s", projectID)
	return nil
}
