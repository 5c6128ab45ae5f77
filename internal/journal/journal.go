// Package journal 持久化 Agent 提交的每一个动作，供运维审计尝试内容、成败与花费。
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	xerrors "AgentKit-Chain/internal/errors"
)

// maxCached 是文件日志在内存中保留的最近记录数。
const maxCached = 512

// Entry 表示一次动作提交的记录。
type Entry struct {
	ID         int64  `json:"id"`
	Agent      string `json:"agent"`
	ActionType string `json:"actionType"`
	Params     string `json:"params"`
	Success    bool   `json:"success"`
	TxHash     string `json:"txHash,omitempty"`
	GasUsed    uint64 `json:"gasUsed"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// Journal 抽象动作记录的持久化接口。
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	ListLatest(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// FileJournal 以 JSON Lines 追加写入本地文件，并在内存中缓存最近的记录。
type FileJournal struct {
	mu     sync.RWMutex
	path   string
	nextID int64

	// entries 按写入顺序保存，最新的在末尾。
	entries []Entry
}

// NewFileJournal 在 dataDir 下打开或创建 actions.log。
func NewFileJournal(dataDir string) (*FileJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	j := &FileJournal{path: filepath.Join(dataDir, "actions.log")}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

// Record 以追加写的方式记录动作。
func (j *FileJournal) Record(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.nextID++
	entry.ID = j.nextID

	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化动作记录失败")
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开动作日志失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入动作日志失败")
	}

	j.entries = append(j.entries, entry)
	if len(j.entries) > maxCached {
		j.entries = j.entries[len(j.entries)-maxCached:]
	}
	return nil
}

// ListLatest 返回最近的记录，按时间倒序排列。
func (j *FileJournal) ListLatest(_ context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.entries) {
		limit = len(j.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(j.entries) - 1; len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out, nil
}

// Close 无需释放资源。
func (j *FileJournal) Close() error { return nil }

func (j *FileJournal) load() error {
	file, err := os.OpenFile(j.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取动作日志失败")
	}
	defer file.Close()

	// 单行长度不设上限，动作参数由调用方决定。
	reader := bufio.NewReader(file)
	var restored []Entry
	for {
		line, readErr := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var entry Entry
			if err := json.Unmarshal(line, &entry); err == nil {
				if entry.ID > j.nextID {
					j.nextID = entry.ID
				}
				restored = append(restored, entry)
				if len(restored) >= 2*maxCached {
					restored = append(restored[:0], restored[len(restored)-maxCached:]...)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, readErr, "解析动作日志失败")
		}
	}
	if len(restored) > maxCached {
		restored = restored[len(restored)-maxCached:]
	}
	j.entries = restored
	return nil
}

// Discard 丢弃所有记录，用于未配置持久化的场景。
type Discard struct{}

func (Discard) Record(context.Context, Entry) error              { return nil }
func (Discard) ListLatest(context.Context, int) ([]Entry, error) { return nil, nil }
func (Discard) Close() error                                     { return nil }

var (
	_ Journal = (*FileJournal)(nil)
	_ Journal = Discard{}
)
