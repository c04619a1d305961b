// internal/services/progress_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/EvalSheet/internal/models"
)

// 任务状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProgressReporter 接收批处理过程中的 (已处理, 总数) 通知，可能被并发调用
type ProgressReporter interface {
	Report(processed, total int)
}

// ProgressReporterFunc 函数形式的 ProgressReporter
type ProgressReporterFunc func(processed, total int)

func (f ProgressReporterFunc) Report(processed, total int) { f(processed, total) }

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID    string        `json:"task_id"`
	Action    models.Action `json:"action"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Progress  int           `json:"progress"` // 进度百分比 (0-100)
	Message   string        `json:"message"`
	Status    string        `json:"status"` // running, completed, failed
	Error     string        `json:"error,omitempty"`
}

// ProgressTracker 跟踪一次批处理任务的进度
type ProgressTracker struct {
	TaskID      string
	Action      models.Action
	Processed   int
	Total       int
	Progress    int
	Message     string
	Status      string
	Error       string
	StartTime   time.Time
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	Done        chan struct{} // 任务结束时关闭

	result *BatchResult
	cancel context.CancelFunc
	notify func(ProgressUpdate)
	mutex  sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers  map[string]*ProgressTracker
	listeners []func(ProgressUpdate)
	mutex     sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// AddListener 注册全局监听器，每个跟踪器的每次更新都会调用（用于 WebSocket 广播）
func (s *ProgressService) AddListener(listener func(ProgressUpdate)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *ProgressService) broadcast(update ProgressUpdate) {
	s.mutex.RLock()
	listeners := append([]func(ProgressUpdate){}, s.listeners...)
	s.mutex.RUnlock()

	for _, listener := range listeners {
		listener(update)
	}
}

// CreateTracker 创建新的进度跟踪器，任务ID为 uuid
func (s *ProgressService) CreateTracker(action models.Action, total int) *ProgressTracker {
	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      uuid.NewString(),
		Action:      action,
		Total:       total,
		Message:     "任务初始化中...",
		Status:      StatusRunning,
		StartTime:   now,
		UpdateTime:  now,
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
		notify:      s.broadcast,
	}

	s.mutex.Lock()
	s.trackers[tracker.TaskID] = tracker
	s.mutex.Unlock()

	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Running 返回仍在运行的跟踪器
func (s *ProgressService) Running() []*ProgressTracker {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var running []*ProgressTracker
	for _, tracker := range s.trackers {
		if tracker.Snapshot().Status == StatusRunning {
			running = append(running, tracker)
		}
	}
	return running
}

// CleanupCompletedTasks 清理已结束且超过 maxAge 未更新的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		finished := tracker.Status != StatusRunning
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if finished && isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

// snapshotLocked 调用方必须持有 t.mutex
func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		TaskID:    t.TaskID,
		Action:    t.Action,
		Processed: t.Processed,
		Total:     t.Total,
		Progress:  t.Progress,
		Message:   t.Message,
		Status:    t.Status,
		Error:     t.Error,
	}
}

// Snapshot 返回当前状态
func (t *ProgressTracker) Snapshot() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

// publishLocked 非阻塞地通知订阅者，通道已满则跳过。调用方必须持有 t.mutex
func (t *ProgressTracker) publishLocked() ProgressUpdate {
	update := t.snapshotLocked()
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
	return update
}

func (t *ProgressTracker) emit(update ProgressUpdate) {
	if t.notify != nil {
		t.notify(update)
	}
}

// Report 实现 ProgressReporter。并发模式下回调顺序不确定，已处理数只增不减
func (t *ProgressTracker) Report(processed, total int) {
	t.mutex.Lock()
	if t.Status != StatusRunning {
		t.mutex.Unlock()
		return
	}
	if processed > t.Processed {
		t.Processed = processed
	}
	if total > 0 {
		t.Total = total
	}
	if t.Total > 0 {
		t.Progress = t.Processed * 100 / t.Total
	}
	t.Message = fmt.Sprintf("已处理 %d/%d 行", t.Processed, t.Total)
	t.UpdateTime = time.Now()
	update := t.publishLocked()
	t.mutex.Unlock()

	t.emit(update)
}

// Complete 标记任务完成并保存结果
func (t *ProgressTracker) Complete(result *BatchResult, message string) {
	t.finish(StatusCompleted, result, message, "")
}

// Fail 标记任务失败，result 为已完成部分（可能为 nil）
func (t *ProgressTracker) Fail(result *BatchResult, errorMsg string) {
	t.finish(StatusFailed, result, fmt.Sprintf("任务失败: %s", errorMsg), errorMsg)
}

func (t *ProgressTracker) finish(status string, result *BatchResult, message, errorMsg string) {
	t.mutex.Lock()
	if t.Status != StatusRunning {
		t.mutex.Unlock()
		return
	}

	t.Status = status
	t.Error = errorMsg
	t.result = result
	if message == "" {
		message = "任务已完成"
	}
	t.Message = message
	if status == StatusCompleted {
		t.Progress = 100
		t.Processed = t.Total
	}
	t.UpdateTime = time.Now()

	update := t.publishLocked()
	close(t.Done)
	t.mutex.Unlock()

	t.emit(update)
}

// Result 返回任务结果，任务未结束时 ok 为 false
func (t *ProgressTracker) Result() (*BatchResult, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.Status == StatusRunning {
		return nil, false
	}
	return t.result, true
}

// Cancel 取消正在运行的任务
func (t *ProgressTracker) Cancel() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.Status != StatusRunning || t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

func (t *ProgressTracker) setCancel(cancel context.CancelFunc) {
	t.mutex.Lock()
	t.cancel = cancel
	t.mutex.Unlock()
}

// Subscribe 订阅进度更新，立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true
	subscriber <- t.snapshotLocked()

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; ok {
		delete(t.Subscribers, subscriber)
		close(subscriber)
	}
}
