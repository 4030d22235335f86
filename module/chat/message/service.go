package message

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	chatmodel "RTProject/module/chat/model"
	"RTProject/module/chat/member"
	"RTProject/module/chat/seq"
	"RTProject/tools/ids"
	errs "RTProject/tools/errs"

	"RTProject/logger"
)

// Draft 一次入站投稿。ConnID 是提交连接，用于 ack 对账；
// 连接中途断开不影响已受理消息的落库与广播。
type Draft struct {
	RoomID      string
	Sender      string
	Content     string
	ClientMsgID string // 可选，客户端草稿ID
	ConnID      string
}

// DeliveryReport 扇出结果（只做记账，不重试、不回传给发送者）。
type DeliveryReport struct {
	Delivered int
	Failed    int
}

// Delivery 由广播层实现。Deliver 不做阻塞IO（逐连接入队），
// 所以在房间序内调用它不会把慢消费者的延迟传染给别的发送者。
type Delivery interface {
	Deliver(ctx context.Context, env *chatmodel.MessageEnvelope) DeliveryReport
}

// AckRegistrar 在广播前登记草稿与提交连接的对应关系。
type AckRegistrar interface {
	Register(draftID, userID, connID string)
}

// Pipeline 消息主链路：成员校验 -> 发号 -> 落库 -> 登记ack -> 扇出。
// 同一房间内 alloc..deliver 由 per-room 锁串行（单写者），保证
// 发号顺序即广播顺序；不同房间完全并行。
type Pipeline struct {
	Members member.Reader
	Alloc   seq.Allocator
	Repo    Repo
	Out     Delivery
	Acks    AckRegistrar

	deliveryFailed atomic.Int64

	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

func NewPipeline(members member.Reader, alloc seq.Allocator, repo Repo, out Delivery, acks AckRegistrar) *Pipeline {
	return &Pipeline{
		Members: members,
		Alloc:   alloc,
		Repo:    repo,
		Out:     out,
		Acks:    acks,
		rooms:   make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) roomLock(roomID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.rooms[roomID]
	if !ok {
		l = &sync.Mutex{}
		p.rooms[roomID] = l
	}
	return l
}

// DeliveryFailures 累计的单连接投递失败数（记账口径，见错误分类(b)）。
func (p *Pipeline) DeliveryFailures() int64 { return p.deliveryFailed.Load() }

// Submit 受理一条草稿。返回错误即“被拒提交”：无任何广播副作用，
// 发号器已自增产生的缺口被容忍（缺口永不复用，也不再报错）。
func (p *Pipeline) Submit(ctx context.Context, d Draft) (*chatmodel.MessageEnvelope, error) {
	if d.RoomID == "" || d.Sender == "" || d.Content == "" {
		return nil, errs.ErrBadPayload.Wrap()
	}

	ok, err := p.Members.IsMember(ctx, d.RoomID, d.Sender)
	if err != nil {
		return nil, errs.NewCodeError(errs.CodeRoomUnavailable, "membership lookup failed").WrapMsg(err.Error())
	}
	if !ok {
		return nil, errs.ErrNotMember.Wrap()
	}

	lock := p.roomLock(d.RoomID)
	lock.Lock()
	defer lock.Unlock()

	s, err := p.Alloc.Next(ctx, d.RoomID)
	if err != nil {
		// fail closed：没有序号绝不落库/广播
		return nil, errs.ErrSeqUnavailable.WrapMsg(err.Error())
	}

	env := &chatmodel.MessageEnvelope{
		RoomID:      d.RoomID,
		Seq:         s,
		SendID:      d.Sender,
		ServerMsgID: ids.GenerateString(),
		ClientMsgID: d.ClientMsgID,
		Content:     d.Content,
		CreateTime:  time.Now().UnixMilli(),
	}

	// 先持久化，后广播；崩溃时客户端看到的消息必须能被历史回放复原
	if err := p.Repo.InsertCommitted(ctx, env); err != nil {
		return nil, errs.ErrStoreFailed.WrapMsg(err.Error())
	}

	if d.ClientMsgID != "" && p.Acks != nil {
		p.Acks.Register(d.ClientMsgID, d.Sender, d.ConnID)
	}

	rep := p.Out.Deliver(ctx, env)
	if rep.Failed > 0 {
		p.deliveryFailed.Add(int64(rep.Failed))
		logger.Warnf("[pipeline] partial delivery room=%s seq=%d ok=%d failed=%d",
			env.RoomID, env.Seq, rep.Delivered, rep.Failed)
	}
	return env, nil
}
