package services

import (
	"testing"
	"time"
)

func TestProgressTrackerLifecycle(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task-1", "session-1")

	if again := svc.CreateTracker("task-1", "other"); again != tracker {
		t.Fatal("重复创建应返回已有跟踪器")
	}

	sub := tracker.Subscribe()
	first := <-sub
	if first.Status != TaskStatusRunning || first.SessionID != "session-1" {
		t.Fatalf("订阅时应立即收到当前状态: %+v", first)
	}

	tracker.UpdateProgress(40, "half")
	tracker.UpdateProgress(20, "")
	update := <-sub
	if update.Progress != 40 || update.Message != "half" {
		t.Errorf("进度更新错误: %+v", update)
	}
	update = <-sub
	if update.Progress != 40 {
		t.Errorf("进度不应回退: %+v", update)
	}

	tracker.Complete("")
	tracker.Fail("late")
	update = <-sub
	if update.Status != TaskStatusCompleted || update.Progress != 100 {
		t.Errorf("完成状态错误: %+v", update)
	}

	select {
	case <-tracker.Done():
	default:
		t.Fatal("完成后 Done 应已关闭")
	}
	if tracker.Snapshot().Status != TaskStatusCompleted {
		t.Error("结束后的状态不应被再次修改")
	}

	tracker.Unsubscribe(sub)
	tracker.Unsubscribe(sub)
}

func TestCleanupCompletedTasks(t *testing.T) {
	svc := NewProgressService()
	done := svc.CreateTracker("done", "")
	svc.CreateTracker("running", "")
	done.Fail("boom")

	time.Sleep(5 * time.Millisecond)
	if removed := svc.CleanupCompletedTasks(time.Millisecond); removed != 1 {
		t.Errorf("应清理 1 个任务，实际为 %d", removed)
	}
	if _, ok := svc.GetTracker("running"); !ok {
		t.Error("运行中的任务不应被清理")
	}
	if svc.Count() != 1 {
		t.Errorf("剩余任务数应为 1，实际为 %d", svc.Count())
	}
}

func TestLockManagerSerializes(t *testing.T) {
	lm := NewLockManager()
	counter := 0
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		go func() {
			_ = lm.ExecuteWithSessionLock("s", func() error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if counter != 10 {
		t.Errorf("会话锁应串行执行，计数为 %d", counter)
	}
	lm.Forget("s")
	if lm.Size() != 0 {
		t.Error("未使用的锁应被删除")
	}
}
