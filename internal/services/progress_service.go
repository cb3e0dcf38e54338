// internal/services/progress_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// 任务状态
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	Progress  int    `json:"progress"` // 进度百分比 (0-100)
	Message   string `json:"message"`
	Status    string `json:"status"`
}

// ProgressTracker 跟踪一次异步生成的进度
type ProgressTracker struct {
	TaskID     string
	SessionID  string
	Progress   int
	Message    string
	Status     string
	StartTime  time.Time
	UpdateTime time.Time

	subscribers map[chan ProgressUpdate]bool
	done        chan struct{}
	finished    bool
	mutex       sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器，已存在时返回现有跟踪器
func (s *ProgressService) CreateTracker(taskID, sessionID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		SessionID:   sessionID,
		Message:     "任务初始化中...",
		Status:      TaskStatusRunning,
		StartTime:   now,
		UpdateTime:  now,
		subscribers: make(map[chan ProgressUpdate]bool),
		done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Count 当前跟踪器数量
func (s *ProgressService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.trackers)
}

func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		TaskID:    t.TaskID,
		SessionID: t.SessionID,
		Progress:  t.Progress,
		Message:   t.Message,
		Status:    t.Status,
	}
}

// 非阻塞通知所有订阅者，通道已满则跳过
func (t *ProgressTracker) broadcastLocked() {
	update := t.snapshotLocked()
	for subscriber := range t.subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Snapshot 当前进度
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

// Done 任务结束信号
func (t *ProgressTracker) Done() <-chan struct{} {
	return t.done
}

// UpdateProgress 更新任务进度，进度只增不减
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcastLocked()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	if message == "" {
		message = "任务已完成"
	}
	t.finish(TaskStatusCompleted, 100, message)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(TaskStatusFailed, -1, fmt.Sprintf("任务失败: %s", errorMsg))
}

func (t *ProgressTracker) finish(status string, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.finished {
		return
	}
	t.finished = true
	t.Status = status
	if progress >= 0 {
		t.Progress = progress
	}
	t.Message = message
	t.UpdateTime = time.Now()

	t.broadcastLocked()
	close(t.done)
}

// Subscribe 订阅进度更新，订阅时立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.subscribers[subscriber] = true
	subscriber <- t.snapshotLocked()
	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.subscribers[subscriber]; ok {
		delete(t.subscribers, subscriber)
		close(subscriber)
	}
}

// CleanupCompletedTasks 清理结束超过 maxAge 的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	removed := 0
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isOld := tracker.finished && now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

// StartCleanup 定期清理已结束的任务，直到 ctx 结束
func (s *ProgressService) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupCompletedTasks(maxAge)
			}
		}
	}()
}
