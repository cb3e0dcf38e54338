// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage 提供生成脚本工作目录下的文件读写
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex
}

// NewFileStorage 创建文件存储服务，基础目录不存在时不创建（由外部脚本负责）
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{BaseDir: baseDir}
}

// Path 返回相对路径对应的完整路径
func (fs *FileStorage) Path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// WithFileLock 在文件写锁保护下执行操作。
// 外部脚本每次都覆盖同一个输出文件，运行脚本与回读输出必须作为一个整体串行化。
func (fs *FileStorage) WithFileLock(dirPath, filename string, fn func() error) error {
	lock := fs.getFileLock(fs.Path(dirPath, filename))
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// SaveTextFile 原子性保存文本文件
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	return writeFileAtomic(fullDirPath, fullPath, content)
}

func writeFileAtomic(fullDirPath, fullPath string, content []byte) error {
	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fmt.Printf("Warning: failed to clean up temporary file %s after rename failure: %v\n", tempPath, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	return nil
}

// SaveJSONFile 保存JSON文件
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// ReadTextFile 读取文本文件，不加锁，供已持有 WithFileLock 的调用方使用
func (fs *FileStorage) ReadTextFile(dirPath, filename string) ([]byte, error) {
	content, err := os.ReadFile(fs.Path(dirPath, filename))
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// LoadTextFile 在读锁保护下读取文本文件。
// 输出文件每次生成都会被覆盖，因此这里不做缓存。
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	lock := fs.getFileLock(fs.Path(dirPath, filename))
	lock.RLock()
	defer lock.RUnlock()

	return fs.ReadTextFile(dirPath, filename)
}

// LoadJSONFile 读取并解析JSON文件
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}

	return nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, err := os.Stat(fs.Path(dirPath, filename))
	return err == nil
}
