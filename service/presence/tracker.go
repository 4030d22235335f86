package presence

import (
	"sync"
	"time"

	"RTProject/logger"
)

type State int

const (
	Offline State = iota
	Online
	PendingOffline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case PendingOffline:
		return "pending_offline"
	default:
		return "offline"
	}
}

// Event 对外可见的在线状态变化。只有 Offline->Online 和
// “防抖窗口走完的” PendingOffline->Offline 会产生事件。
type Event struct {
	UserID string
	Online bool
	Ts     int64 // Unix ms
}

// Tracker 每个身份一台小状态机：
//
//	Online --最后一条连接断开--> PendingOffline(30s定时器)
//	PendingOffline --窗口内任意新连接--> Online（静默取消，防抖核心）
//	PendingOffline --定时器到期--> Offline（产生一次事件）
//
// 定时器取消与触发的竞争由 mu + epoch 收敛：到期回调拿锁后
// 发现 epoch 变了就直接放弃，不会出现“刚重连又被判下线”。
type Tracker struct {
	mu       sync.Mutex
	states   map[string]*entry
	debounce time.Duration
	clock    func() time.Time

	notify  func(Event)             // 状态变化回传（广播/镜像），可为 nil
	hasLive func(userID string) bool // 注册表的活连接查询，提交下线前复核用
}

type entry struct {
	state State
	epoch int64
	timer *time.Timer
	last  time.Time // 最近一次状态迁移时间
}

type Option func(*Tracker)

// WithDebounce 覆盖防抖窗口（单测用；协议约定 30s）
func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) { t.debounce = d }
}

func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLiveCheck 挂接注册表的活连接查询。注册表在锁外发事件，
// 快速重连时 OnConnect 可能先于上一条连接的 OnLastDisconnect 到达；
// 挂了复核后，陈旧的下线挂起不会把还有活连接的身份广播成离线。
func WithLiveCheck(fn func(userID string) bool) Option {
	return func(t *Tracker) { t.hasLive = fn }
}

func NewTracker(notify func(Event), opts ...Option) *Tracker {
	t := &Tracker{
		states:   make(map[string]*entry),
		debounce: 30 * time.Second,
		clock:    time.Now,
		notify:   notify,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnConnect 注册表回调：该身份新增了一条连接。
func (t *Tracker) OnConnect(userID string) {
	var ev *Event

	t.mu.Lock()
	e, ok := t.states[userID]
	if !ok {
		e = &entry{state: Offline}
		t.states[userID] = e
	}
	now := t.clock()

	switch e.state {
	case Online:
		// 多端并发，无迁移
	case PendingOffline:
		// 窗口内回来：静默取消，不产生任何事件
		e.epoch++
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.state = Online
		e.last = now
	default: // Offline
		e.state = Online
		e.last = now
		ev = &Event{UserID: userID, Online: true, Ts: now.UnixMilli()}
	}
	t.mu.Unlock()

	if ev != nil && t.notify != nil {
		t.notify(*ev)
	}
}

// OnLastDisconnect 注册表回调：该身份最后一条连接也断开了。
// 只挂起定时器，不立刻广播下线。
func (t *Tracker) OnLastDisconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.states[userID]
	if !ok || e.state != Online {
		return
	}
	e.state = PendingOffline
	e.last = t.clock()
	e.epoch++
	epoch := e.epoch

	e.timer = time.AfterFunc(t.debounce, func() {
		t.commitOffline(userID, epoch)
	})
}

func (t *Tracker) commitOffline(userID string, epoch int64) {
	var ev *Event

	t.mu.Lock()
	e, ok := t.states[userID]
	if ok && e.state == PendingOffline && e.epoch == epoch {
		now := t.clock()
		if t.hasLive != nil && t.hasLive(userID) {
			// 乱序事件把挂起留了下来，注册表里却还有活连接：
			// 静默回 Online，零事件（见防抖不变式）
			e.state = Online
			e.timer = nil
			e.last = now
		} else {
			e.state = Offline
			e.timer = nil
			e.last = now
			ev = &Event{UserID: userID, Online: false, Ts: now.UnixMilli()}
		}
	}
	t.mu.Unlock()

	if ev == nil {
		return
	}
	logger.Debugf("[presence] commit offline user=%s", userID)
	if t.notify != nil {
		t.notify(*ev)
	}
}

// StateOf 当前状态（PendingOffline 对外仍视为在线）
func (t *Tracker) StateOf(userID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.states[userID]
	if !ok {
		return Offline
	}
	return e.state
}

func (t *Tracker) IsOnline(userID string) bool {
	s := t.StateOf(userID)
	return s == Online || s == PendingOffline
}
