package message

import (
	"context"
	"sort"
	"sync"

	chatmodel "RTProject/module/chat/model"
)

// MemRepo 内存消息库：单测与本地开发用，语义与 Store 对齐。
type MemRepo struct {
	mu    sync.Mutex
	rooms map[string][]*chatmodel.MessageEnvelope

	// FailInsert 注入落库失败（单测用）
	FailInsert error
}

func NewMemRepo() *MemRepo {
	return &MemRepo{rooms: make(map[string][]*chatmodel.MessageEnvelope)}
}

func (r *MemRepo) InsertCommitted(_ context.Context, env *chatmodel.MessageEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInsert != nil {
		return r.FailInsert
	}
	cp := *env
	r.rooms[env.RoomID] = append(r.rooms[env.RoomID], &cp)
	return nil
}

func (r *MemRepo) ListBefore(_ context.Context, roomID string, cursor int64, limit int64) ([]*chatmodel.MessageEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := append([]*chatmodel.MessageEnvelope(nil), r.rooms[roomID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq > msgs[j].Seq })

	var out []*chatmodel.MessageEnvelope
	for _, m := range msgs {
		if cursor > 0 && m.Seq >= cursor {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

// Count 房间内消息条数（单测断言用）
func (r *MemRepo) Count(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}
