package storage

import (
	"sync"
	"testing"
	"time"
)

func TestSaveAndLoadJSON(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	in := map[string]string{"title": "T", "premise": "P"}
	if err := fs.SaveJSONFile("output", "premise.json", in); err != nil {
		t.Fatalf("保存JSON失败: %v", err)
	}
	if !fs.FileExists("output", "premise.json") {
		t.Fatal("文件应该存在")
	}
	if fs.FileExists("output", "premise.json.tmp") {
		t.Error("临时文件应该已被重命名")
	}

	var out map[string]string
	if err := fs.LoadJSONFile("output", "premise.json", &out); err != nil {
		t.Fatalf("读取JSON失败: %v", err)
	}
	if out["title"] != "T" || out["premise"] != "P" {
		t.Errorf("读取内容不正确: %v", out)
	}
}

func TestLoadReflectsOverwrite(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	if err := fs.SaveTextFile("output", "story.txt", []byte("first")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if _, err := fs.LoadTextFile("output", "story.txt"); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if err := fs.SaveTextFile("output", "story.txt", []byte("second")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	data, err := fs.LoadTextFile("output", "story.txt")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("覆盖后应读取到新内容，实际为 %q", data)
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	if _, err := fs.LoadTextFile("output", "plan.json"); err == nil {
		t.Fatal("读取不存在的文件应该返回错误")
	}

	var v interface{}
	if err := fs.SaveTextFile("output", "bad.json", []byte("{not json")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if err := fs.LoadJSONFile("output", "bad.json", &v); err == nil {
		t.Fatal("格式错误的JSON应该返回错误")
	}
}

func TestWithFileLockSerializes(t *testing.T) {
	fs := NewFileStorage(t.TempDir())

	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs.WithFileLock("output", "plan.json", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("同一文件的操作应串行执行，最大并发为 %d", maxActive)
	}
}
