// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按会话管理互斥锁。
// 组合操作（提交生成结果并重建聊天、重启并清空聊天）在会话锁内执行，保证对外表现为一次更新。
type LockManager struct {
	locks      map[string]*lockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
}

type lockInfo struct {
	mutex    sync.Mutex
	lastUsed time.Time
	refCount int // 正在等待或持有锁的调用数，大于0时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		locks:   make(map[string]*lockInfo),
		lockTTL: 30 * time.Minute,
	}
}

func (lm *LockManager) acquire(sessionID string) *lockInfo {
	lm.globalLock.Lock()
	info, exists := lm.locks[sessionID]
	if !exists {
		info = &lockInfo{}
		lm.locks[sessionID] = info
	}
	info.refCount++
	info.lastUsed = time.Now()
	lm.globalLock.Unlock()

	info.mutex.Lock()
	return info
}

func (lm *LockManager) release(info *lockInfo) {
	info.mutex.Unlock()

	lm.globalLock.Lock()
	info.refCount--
	info.lastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithSessionLock 在会话锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	info := lm.acquire(sessionID)
	defer lm.release(info)
	return fn()
}

// Forget 删除会话锁，仍被使用时保留
func (lm *LockManager) Forget(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if info, exists := lm.locks[sessionID]; exists && info.refCount == 0 {
		delete(lm.locks, sessionID)
	}
}

// CleanupUnusedLocks 清理长时间未使用的锁
func (lm *LockManager) CleanupUnusedLocks() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	removed := 0
	for id, info := range lm.locks {
		if info.refCount == 0 && now.Sub(info.lastUsed) > lm.lockTTL {
			delete(lm.locks, id)
			removed++
		}
	}
	return removed
}

// Size 当前锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}
