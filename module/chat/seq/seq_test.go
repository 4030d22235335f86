package seq

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestMemAllocatorUniqueAscending(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()

	const workers = 100
	const perWorker = 20

	var mu sync.Mutex
	var got []int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s, err := a.Next(ctx, "room-a")
				if err != nil {
					t.Errorf("next err: %v", err)
					return
				}
				mu.Lock()
				got = append(got, s)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(got) != workers*perWorker {
		t.Fatalf("want %d seqs, got %d", workers*perWorker, len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, s := range got {
		if s != int64(i+1) {
			t.Fatalf("seq at %d: want %d got %d", i, i+1, s)
		}
	}
}

func TestMemAllocatorRoomsIndependent(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s, _ := a.Next(ctx, "room-a")
		if s != int64(i) {
			t.Fatalf("room-a: want %d got %d", i, s)
		}
	}
	s, _ := a.Next(ctx, "room-b")
	if s != 1 {
		t.Fatalf("room-b must start at 1, got %d", s)
	}
}

func TestMemDAOSegmentsNeverOverlap(t *testing.T) {
	d := NewMemDAO()
	ctx := context.Background()

	var prevEnd int64
	for i := 0; i < 5; i++ {
		start, end, err := d.AllocSegment(ctx, "r", 100)
		if err != nil {
			t.Fatalf("alloc segment: %v", err)
		}
		if start != prevEnd+1 {
			t.Fatalf("segment %d: start %d, want %d", i, start, prevEnd+1)
		}
		if end != start+99 {
			t.Fatalf("segment %d: end %d, want %d", i, end, start+99)
		}
		prevEnd = end
	}
}

// ===== RedisAllocator 两级发号（假 Scripter 模拟段语义） =====

type fakeSeg struct {
	curr, end int64
}

type fakeScripter struct {
	mu   sync.Mutex
	segs map[string]*fakeSeg
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{segs: make(map[string]*fakeSeg)}
}

func (f *fakeScripter) drop(key string) {
	f.mu.Lock()
	delete(f.segs, key)
	f.mu.Unlock()
}

func toI64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func (f *fakeScripter) run(sha string, keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keys[0]
	switch sha {
	case luaInSegment.Hash():
		need := toI64(args[0])
		segEnd := toI64(args[1])
		nowms := toI64(args[2])
		seg, ok := f.segs[key]
		if !ok {
			return redis.NewCmdResult([]interface{}{int64(1)}, nil)
		}
		if segEnd != 0 && segEnd != seg.end {
			return redis.NewCmdResult([]interface{}{int64(3), seg.curr, seg.end, int64(0), nowms}, nil)
		}
		if seg.curr+need > seg.end {
			return redis.NewCmdResult([]interface{}{int64(3), seg.curr, seg.end, int64(0), nowms}, nil)
		}
		start := seg.curr + 1
		seg.curr += need
		return redis.NewCmdResult([]interface{}{int64(0), start, int64(0), seg.end, nowms}, nil)
	case luaSetSegment.Hash():
		f.segs[key] = &fakeSeg{curr: toI64(args[0]), end: toI64(args[1])}
		return redis.NewCmdResult(int64(1), nil)
	default:
		return redis.NewCmdResult(nil, redis.Nil)
	}
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, redis.Nil)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(sha1, keys, args)
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	out := make([]bool, len(hashes))
	for i := range out {
		out[i] = true
	}
	return redis.NewBoolSliceResult(out, nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisAllocatorRefillsAcrossSegments(t *testing.T) {
	rdb := newFakeScripter()
	a := &RedisAllocator{
		Rdb:         rdb,
		DAO:         NewMemDAO(),
		BlockSizeFn: func(string, int64) int64 { return 4 },
	}
	ctx := context.Background()

	for want := int64(1); want <= 10; want++ {
		got, err := a.Next(ctx, "room-a")
		if err != nil {
			t.Fatalf("next %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("next: want %d got %d", want, got)
		}
	}
}

func TestRedisAllocatorLostSegmentLeavesGap(t *testing.T) {
	rdb := newFakeScripter()
	a := &RedisAllocator{
		Rdb:         rdb,
		DAO:         NewMemDAO(),
		BlockSizeFn: func(string, int64) int64 { return 4 },
	}
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		if got, err := a.Next(ctx, "room-a"); err != nil || got != want {
			t.Fatalf("warmup next: got %d err %v", got, err)
		}
	}

	// 模拟 Redis 重启/段过期：段丢了，但 Mongo 的 issued_seq 不回退
	rdb.drop(defaultKey("room-a"))

	got, err := a.Next(ctx, "room-a")
	if err != nil {
		t.Fatalf("next after drop: %v", err)
	}
	if got <= 3 {
		t.Fatalf("seq must never reuse after segment loss, got %d", got)
	}
	if got != 5 {
		t.Fatalf("expected fresh lease to start at 5 (gap at 4), got %d", got)
	}
}

func TestRedisAllocatorFailClosedOnLeaseError(t *testing.T) {
	rdb := newFakeScripter()
	a := &RedisAllocator{
		Rdb: rdb,
		DAO: failDAO{},
	}
	if _, err := a.Next(context.Background(), "room-a"); err == nil {
		t.Fatal("expected error when segment lease fails")
	}
}

type failDAO struct{}

func (failDAO) AllocSegment(context.Context, string, int64) (int64, int64, error) {
	return 0, 0, context.DeadlineExceeded
}
