package chat

import (
	"sync"
	"time"
)

// ===== 草稿回执对账 =====

// PendingAck 草稿ID与提交连接的短命对应关系；
// 广播回到提交连接时命中一次，否则等超时被回收。
// 发送端全端掉线时 ack 直接丢弃——它重连补拉历史时会把
// 自己的消息当普通来信看到，幂等退化，可接受。
type PendingAck struct {
	DraftID  string
	UserID   string
	ConnID   string
	ExpireAt time.Time
}

type AckConf struct {
	TTL        time.Duration
	SweepEvery time.Duration
	Clock      func() time.Time
}

func (c *AckConf) norm() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type AckTable struct {
	mu      sync.Mutex
	pending map[string]*PendingAck // draftID -> pending

	conf     AckConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewAckTable(conf AckConf) *AckTable {
	conf.norm()
	t := &AckTable{
		pending: make(map[string]*PendingAck),
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Register 广播前登记；同一草稿ID重复提交以最后一次为准。
func (t *AckTable) Register(draftID, userID, connID string) {
	if draftID == "" {
		return
	}
	now := t.conf.Clock()
	t.mu.Lock()
	t.pending[draftID] = &PendingAck{
		DraftID:  draftID,
		UserID:   userID,
		ConnID:   connID,
		ExpireAt: now.Add(t.conf.TTL),
	}
	t.mu.Unlock()
}

// Resolve 只对登记的那条连接命中，且只命中一次。
// 命中即删除，保证同一信封不会在同一连接上既发 ack 又发 message。
func (t *AckTable) Resolve(draftID, connID string) bool {
	if draftID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[draftID]
	if !ok || p.ConnID != connID {
		return false
	}
	delete(t.pending, draftID)
	return true
}

func (t *AckTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *AckTable) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *AckTable) janitor() {
	tick := time.NewTicker(t.conf.SweepEvery)
	defer tick.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-tick.C:
			t.sweepOnce(t.conf.Clock())
		}
	}
}

func (t *AckTable) sweepOnce(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		if now.After(p.ExpireAt) {
			delete(t.pending, id)
		}
	}
}
