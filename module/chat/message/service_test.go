package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"RTProject/module/chat/member"
	chatmodel "RTProject/module/chat/model"
	"RTProject/module/chat/seq"
	errs "RTProject/tools/errs"
)

type captureDelivery struct {
	mu   sync.Mutex
	envs []*chatmodel.MessageEnvelope
	rep  DeliveryReport
}

func (d *captureDelivery) Deliver(_ context.Context, env *chatmodel.MessageEnvelope) DeliveryReport {
	d.mu.Lock()
	cp := *env
	d.envs = append(d.envs, &cp)
	d.mu.Unlock()
	return d.rep
}

func (d *captureDelivery) delivered() []*chatmodel.MessageEnvelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*chatmodel.MessageEnvelope(nil), d.envs...)
}

type captureAcks struct {
	mu   sync.Mutex
	regs [][3]string
}

func (a *captureAcks) Register(draftID, userID, connID string) {
	a.mu.Lock()
	a.regs = append(a.regs, [3]string{draftID, userID, connID})
	a.mu.Unlock()
}

func newTestPipeline(out Delivery, acks AckRegistrar) (*Pipeline, *MemRepo) {
	members := &member.MemReader{Rooms: map[string][]string{
		"room-a": {"alice", "bob"},
	}}
	repo := NewMemRepo()
	return NewPipeline(members, seq.NewMemAllocator(), repo, out, acks), repo
}

func TestSubmitAssignsContiguousSeq(t *testing.T) {
	out := &captureDelivery{}
	p, repo := newTestPipeline(out, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		env, err := p.Submit(ctx, Draft{
			RoomID: "room-a", Sender: "alice",
			Content: fmt.Sprintf("msg-%d", i),
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if env.Seq != int64(i) {
			t.Fatalf("submit %d: seq=%d", i, env.Seq)
		}
		if env.ServerMsgID == "" {
			t.Fatalf("submit %d: missing server msg id", i)
		}
	}
	if repo.Count("room-a") != 5 {
		t.Fatalf("repo count=%d", repo.Count("room-a"))
	}
	envs := out.delivered()
	if len(envs) != 5 {
		t.Fatalf("delivered=%d", len(envs))
	}
	for i, env := range envs {
		if env.Seq != int64(i+1) {
			t.Fatalf("broadcast order broken at %d: seq=%d", i, env.Seq)
		}
	}
}

func TestSubmitConcurrentSameRoom(t *testing.T) {
	out := &captureDelivery{}
	p, repo := newTestPipeline(out, nil)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.Submit(ctx, Draft{
				RoomID: "room-a", Sender: "alice",
				Content: fmt.Sprintf("c-%d", i),
			}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if repo.Count("room-a") != n {
		t.Fatalf("repo count=%d", repo.Count("room-a"))
	}
	// 房间序内 alloc..deliver 串行：广播顺序必须等于发号顺序
	envs := out.delivered()
	for i, env := range envs {
		if env.Seq != int64(i+1) {
			t.Fatalf("broadcast order != allocation order at %d: seq=%d", i, env.Seq)
		}
	}
}

func TestSubmitRejectsNonMember(t *testing.T) {
	out := &captureDelivery{}
	p, repo := newTestPipeline(out, nil)

	_, err := p.Submit(context.Background(), Draft{
		RoomID: "room-a", Sender: "mallory", Content: "hi",
	})
	if !errors.Is(err, errs.ErrNotMember) {
		t.Fatalf("want ErrNotMember, got %v", err)
	}
	if repo.Count("room-a") != 0 || len(out.delivered()) != 0 {
		t.Fatal("rejected submit must have no side effects")
	}
}

func TestSubmitRejectsEmptyPayload(t *testing.T) {
	p, _ := newTestPipeline(&captureDelivery{}, nil)
	for _, d := range []Draft{
		{RoomID: "", Sender: "alice", Content: "x"},
		{RoomID: "room-a", Sender: "", Content: "x"},
		{RoomID: "room-a", Sender: "alice", Content: ""},
	} {
		if _, err := p.Submit(context.Background(), d); !errors.Is(err, errs.ErrBadPayload) {
			t.Fatalf("draft %+v: want ErrBadPayload, got %v", d, err)
		}
	}
}

func TestSubmitFailClosedOnAllocator(t *testing.T) {
	out := &captureDelivery{}
	members := &member.MemReader{Rooms: map[string][]string{"room-a": {"alice"}}}
	alloc := seq.NewMemAllocator()
	alloc.FailNext = errors.New("redis down")
	repo := NewMemRepo()
	p := NewPipeline(members, alloc, repo, out, nil)

	_, err := p.Submit(context.Background(), Draft{RoomID: "room-a", Sender: "alice", Content: "x"})
	if !errors.Is(err, errs.ErrSeqUnavailable) {
		t.Fatalf("want ErrSeqUnavailable, got %v", err)
	}
	if repo.Count("room-a") != 0 || len(out.delivered()) != 0 {
		t.Fatal("alloc failure must not persist or broadcast")
	}
}

func TestSubmitStoreFailureNoBroadcast(t *testing.T) {
	out := &captureDelivery{}
	p, repo := newTestPipeline(out, nil)
	repo.FailInsert = errors.New("mongo down")

	_, err := p.Submit(context.Background(), Draft{RoomID: "room-a", Sender: "alice", Content: "x"})
	if !errors.Is(err, errs.ErrStoreFailed) {
		t.Fatalf("want ErrStoreFailed, got %v", err)
	}
	if len(out.delivered()) != 0 {
		t.Fatal("store failure must not broadcast")
	}

	// 发号器已经走到 1，缺口被容忍：恢复后下一条拿 2，不复用
	repo.FailInsert = nil
	env, err := p.Submit(context.Background(), Draft{RoomID: "room-a", Sender: "alice", Content: "y"})
	if err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}
	if env.Seq != 2 {
		t.Fatalf("gap must not be reused: seq=%d", env.Seq)
	}
}

func TestSubmitRegistersAckOnlyWithDraftID(t *testing.T) {
	acks := &captureAcks{}
	p, _ := newTestPipeline(&captureDelivery{}, acks)
	ctx := context.Background()

	if _, err := p.Submit(ctx, Draft{RoomID: "room-a", Sender: "alice", Content: "x", ConnID: "c1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(acks.regs) != 0 {
		t.Fatal("no draft id, no ack registration")
	}

	if _, err := p.Submit(ctx, Draft{
		RoomID: "room-a", Sender: "alice", Content: "x",
		ClientMsgID: "draft-1", ConnID: "c1",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(acks.regs) != 1 || acks.regs[0] != [3]string{"draft-1", "alice", "c1"} {
		t.Fatalf("ack registration: %+v", acks.regs)
	}
}

func TestSubmitCountsDeliveryFailures(t *testing.T) {
	out := &captureDelivery{rep: DeliveryReport{Delivered: 2, Failed: 3}}
	p, _ := newTestPipeline(out, nil)

	if _, err := p.Submit(context.Background(), Draft{RoomID: "room-a", Sender: "alice", Content: "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := p.DeliveryFailures(); got != 3 {
		t.Fatalf("delivery failures=%d", got)
	}
}

func TestSubmittedSurvivesDisconnectAndIsReplayable(t *testing.T) {
	p, repo := newTestPipeline(&captureDelivery{}, nil)
	ctx := context.Background()

	// 提交连接早已不存在也不影响受理
	env, err := p.Submit(ctx, Draft{
		RoomID: "room-a", Sender: "alice", Content: "hello",
		ClientMsgID: "d-1", ConnID: "gone-conn",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	page, err := repo.ListBefore(ctx, "room-a", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].Seq != env.Seq || page[0].Content != "hello" {
		t.Fatalf("history must contain accepted message: %+v", page)
	}
}

func TestListBeforePagination(t *testing.T) {
	repo := NewMemRepo()
	ctx := context.Background()
	for i := 1; i <= 250; i++ {
		if err := repo.InsertCommitted(ctx, &chatmodel.MessageEnvelope{
			RoomID: "room-a", Seq: int64(i), SendID: "alice",
			Content: fmt.Sprintf("m-%d", i),
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	cursor := int64(0)
	seen := 0
	for page := 0; page < 5; page++ {
		msgs, err := repo.ListBefore(ctx, "room-a", cursor, 50)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if len(msgs) != 50 {
			t.Fatalf("page %d: len=%d", page, len(msgs))
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].Seq >= msgs[i-1].Seq {
				t.Fatalf("page %d not descending at %d", page, i)
			}
		}
		seen += len(msgs)
		cursor = msgs[len(msgs)-1].Seq
	}
	if seen != 250 {
		t.Fatalf("seen=%d", seen)
	}

	// 翻到头：空页 + nil error
	msgs, err := repo.ListBefore(ctx, "room-a", cursor, 50)
	if err != nil {
		t.Fatalf("tail page: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("tail page must be empty, got %d", len(msgs))
	}
}
