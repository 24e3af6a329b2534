// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"tableside/internal/pkg/logger"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot   = "/tableside_locks" // 所有分布式锁的根节点
	nodePrefix = "lock-"
)

var ErrLockHeld = errors.New("lock is held by another node")

// Conn 包装 zk 连接
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群，servers 为逗号分隔的地址
func Connect(servers string, timeout time.Duration) (*Conn, error) {
	c, _, err := zk.Connect(strings.Split(servers, ","), timeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrapf(err, "connect zookeeper %s", servers)
	}
	logger.L().Info().Str("servers", servers).Msg("✅ Connected to ZooKeeper")
	return &Conn{Conn: c}, nil
}

// DistributedLock 基于临时顺序节点的分布式锁
type DistributedLock struct {
	conn     *Conn
	path     string // 例如 /tableside_locks/day-boundary
	lockNode string // 获取锁后自己创建的节点路径
}

// NewDistributedLock 创建锁实例，必要时创建父节点
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		exists, _, err := conn.Exists(p)
		if err != nil {
			return nil, errors.Wrapf(err, "check lock node %s", p)
		}
		if exists {
			continue
		}
		if _, err := conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, errors.Wrapf(err, "create lock node %s", p)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// TryLock 尝试获取锁，拿不到时立即返回 ErrLockHeld
func (l *DistributedLock) TryLock() error {
	if err := l.createNode(); err != nil {
		return err
	}
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		l.release()
		return errors.Wrap(err, "list lock children")
	}
	if predecessor(children, l.nodeName()) == "" {
		return nil
	}
	l.release()
	return ErrLockHeld
}

// Lock 阻塞直到获取锁或 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	if err := l.createNode(); err != nil {
		return err
	}

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.release()
			return errors.Wrap(err, "list lock children")
		}

		prev := predecessor(children, l.nodeName())
		if prev == "" {
			return nil
		}

		// 只监听前一个节点，避免羊群效应
		exists, _, eventChan, err := l.conn.ExistsW(l.path + "/" + prev)
		if err != nil {
			l.release()
			return errors.Wrap(err, "watch previous lock node")
		}
		if !exists {
			continue
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-ctx.Done():
			l.release()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	l.lockNode = ""
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	return nil
}

func (l *DistributedLock) createNode() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/"+nodePrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = nodePath
	return nil
}

func (l *DistributedLock) nodeName() string {
	return strings.TrimPrefix(l.lockNode, l.path+"/")
}

func (l *DistributedLock) release() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

// sequenceOf 取出节点名末尾的 10 位序号。
// protected 节点名形如 _c_<guid>-lock-0000000007，不能直接按字符串排序。
func sequenceOf(name string) int64 {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return -1
	}
	seq, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return seq
}

// predecessor 返回序号紧挨在 mine 之前的节点名，mine 最小时返回空字符串
func predecessor(children []string, mine string) string {
	sorted := append([]string(nil), children...)
	sort.Slice(sorted, func(i, j int) bool { return sequenceOf(sorted[i]) < sequenceOf(sorted[j]) })
	for i, child := range sorted {
		if child == mine {
			if i == 0 {
				return ""
			}
			return sorted[i-1]
		}
	}
	// 自己的节点不在列表里（会话重建等情况），视为排在最后
	if len(sorted) == 0 {
		return ""
	}
	return sorted[len(sorted)-1]
}
