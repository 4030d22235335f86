package seq

import (
	"context"
	"sync"
)

// MemAllocator 纯内存发号器：单测与本地开发用。
// 与 RedisAllocator 同接口，但不持久化，进程重启会复用序号，生产禁用。
type MemAllocator struct {
	mu    sync.Mutex
	rooms map[string]int64

	// FailNext 注入发号失败（单测用）
	FailNext error
}

func NewMemAllocator() *MemAllocator {
	return &MemAllocator{rooms: make(map[string]int64)}
}

func (m *MemAllocator) Next(_ context.Context, roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		return 0, m.FailNext
	}
	m.rooms[roomID]++
	return m.rooms[roomID], nil
}

// MemDAO 内存段租借，给 RedisAllocator 在单测里当回源。
type MemDAO struct {
	mu     sync.Mutex
	issued map[string]int64
}

func NewMemDAO() *MemDAO {
	return &MemDAO{issued: make(map[string]int64)}
}

func (d *MemDAO) AllocSegment(_ context.Context, roomID string, block int64) (int64, int64, error) {
	if block <= 0 {
		block = 256
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.issued[roomID]
	d.issued[roomID] = old + block
	return old + 1, old + block, nil
}
