package chat

import (
	"errors"
	"net"
	"sync"
	"time"

	"RTProject/logger"
	"RTProject/tools/ids"

	"github.com/gorilla/websocket"
)

// ===== 配置 =====

type ManagerConf struct {
	HeartbeatTTL  time.Duration    // 心跳存活窗口（超时视同断线）
	SweepEvery    time.Duration    // 清理周期
	MaxPerUser    int              // 每用户最大连接数（<=0 不限制）
	EvictOldest   bool             // 超限时淘汰最老连接
	SendQueueSize int              // 每连接发送队列长度
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 75 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
}

// ===== 数据结构 =====

// WsConn 一条活跃连接。除订阅房间集合外无状态，
// 心跳误杀只会逼客户端重连，不会弄脏任何数据。
type WsConn struct {
	ConnID string
	UserID string

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time
	Heartbeat time.Time // 最近心跳时间
	ExpireAt  time.Time // 到期时间（过期由 sweeper 清理）

	SendChan chan []byte // 每连接独立发送队列；慢消费者只堵自己

	// WriteFn 可注入写实现（单测用）；nil => 写底层 websocket
	WriteFn func([]byte) error

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed chan struct{}
	once   sync.Once
}

func (w *WsConn) EnterRoom(room string) {
	if room == "" {
		return
	}
	w.mu.Lock()
	w.rooms[room] = struct{}{}
	w.mu.Unlock()
}

func (w *WsConn) InRoom(room string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.rooms[room]
	return ok
}

func (w *WsConn) Rooms() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.rooms))
	for r := range w.rooms {
		out = append(out, r)
	}
	return out
}

// Enqueue 非阻塞入队。队列满或连接已关视为单连接投递失败，
// 由广播层记账，绝不把失败传染给别的连接。
func (w *WsConn) Enqueue(data []byte) error {
	select {
	case <-w.closed:
		return errors.New("conn closed")
	default:
	}
	select {
	case w.SendChan <- data:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (w *WsConn) writeOut(data []byte) error {
	if w.WriteFn != nil {
		return w.WriteFn(data)
	}
	if w.Conn == nil {
		return errors.New("nil conn")
	}
	if err := w.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// close 发关闭帧后断开；code 让客户端区分鉴权失败和超时
func (w *WsConn) close(code int, reason string) {
	w.once.Do(func() {
		close(w.closed)
		if w.Conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = w.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), deadline)
			_ = w.Conn.Close()
		}
	})
}

// ===== 注册表 =====

// ConnEvents 注册表对外的连接事件（在线状态跟踪消费）。
type ConnEvents interface {
	OnConnect(userID string)
	OnLastDisconnect(userID string)
}

type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*WsConn            // 主索引：connID -> conn
	byUser map[string]map[string]*WsConn // 辅助索引：userID -> (connID -> conn)

	conf     ManagerConf
	events   ConnEvents
	stopOnce sync.Once
	stopCh   chan struct{}
	gwID     string // 节点ID
}

func NewConnManager(conf ManagerConf, gwID string, events ConnEvents) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		conf:   conf,
		events: events,
		gwID:   gwID,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

// Register 握手成功后登记连接；同一身份并发多端是常态不是错误。
func (m *ConnManager) Register(userID string, ws *websocket.Conn, rooms []string) *WsConn {
	now := m.conf.Clock()
	w := &WsConn{
		ConnID:    ids.GenerateString(),
		UserID:    userID,
		Conn:      ws,
		CreatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(m.conf.HeartbeatTTL),
		SendChan:  make(chan []byte, m.conf.SendQueueSize),
		rooms:     make(map[string]struct{}),
		closed:    make(chan struct{}),
	}
	if ws != nil {
		w.Remote = ws.RemoteAddr()
	}
	for _, r := range rooms {
		w.EnterRoom(r)
	}

	var evicted *WsConn
	m.mu.Lock()
	if m.conf.MaxPerUser > 0 {
		evicted = m.ensureRoomForUserLocked(userID)
	}
	m.byConn[w.ConnID] = w
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*WsConn)
	}
	m.byUser[userID][w.ConnID] = w
	m.mu.Unlock()

	if evicted != nil {
		evicted.close(CloseKicked, "too many connections")
	}

	go m.writePump(w)

	if m.events != nil {
		m.events.OnConnect(userID)
	}
	return w
}

// Unregister 移除连接并返回“是否该身份最后一条”。
// 幂等：重复移除同一 connID 返回 false 且无副作用。
func (m *ConnManager) Unregister(connID string, code int, reason string) (last bool) {
	m.mu.Lock()
	w, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.byConn, connID)
	if mm := m.byUser[w.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, w.UserID)
			last = true
		}
	}
	m.mu.Unlock()

	w.close(code, reason)

	if last && m.events != nil {
		m.events.OnLastDisconnect(w.UserID)
	}
	return last
}

// Heartbeat 刷新存活窗口并把房间并入订阅（重连后客户端靠心跳重declare）。
func (m *ConnManager) Heartbeat(connID, room string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	w, ok := m.byConn[connID]
	if ok {
		w.Heartbeat = now
		w.ExpireAt = now.Add(m.conf.HeartbeatTTL)
	}
	m.mu.Unlock()
	if !ok {
		return errors.New("connID not found")
	}
	w.EnterRoom(room)
	return nil
}

// SnapshotUser 返回该身份连接集合的拷贝；调用方遍历期间的并发
// 注销不会影响这份快照。
func (m *ConnManager) SnapshotUser(userID string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*WsConn, 0, len(mm))
	for _, w := range mm {
		out = append(out, w)
	}
	return out
}

// SnapshotRooms 返回订阅了任一给定房间的连接快照（按 connID 去重）。
func (m *ConnManager) SnapshotRooms(rooms []string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []*WsConn
	for _, w := range m.byConn {
		for _, r := range rooms {
			if w.InRoom(r) {
				if _, ok := seen[w.ConnID]; !ok {
					seen[w.ConnID] = struct{}{}
					out = append(out, w)
				}
				break
			}
		}
	}
	return out
}

// HasConns 该身份当前是否还有活连接（在线状态提交前的权威复核）。
func (m *ConnManager) HasConns(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byConn[connID]
	return w, ok
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	conns := make([]*WsConn, 0, len(m.byConn))
	for _, w := range m.byConn {
		conns = append(conns, w)
	}
	m.byConn = map[string]*WsConn{}
	m.byUser = map[string]map[string]*WsConn{}
	m.mu.Unlock()

	for _, w := range conns {
		w.close(websocket.CloseGoingAway, "server shutdown")
	}
}

// ===== 写协程 =====

func (m *ConnManager) writePump(w *WsConn) {
	for {
		select {
		case <-w.closed:
			return
		case data := <-w.SendChan:
			if err := w.writeOut(data); err != nil {
				logger.Infof("[conn] write err connID=%s user=%s err=%v", w.ConnID, w.UserID, err)
				m.Unregister(w.ConnID, websocket.CloseAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// ===== 清理协程（心跳超时 = 静默死亡检测） =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.byConn {
		if now.After(w.ExpireAt) {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range expired {
		logger.Infof("[conn] heartbeat timeout connID=%s user=%s", w.ConnID, w.UserID)
		m.Unregister(w.ConnID, CloseIdleTimeout, "heartbeat timeout")
	}
}

// ===== 最大连接数/挤下线 =====

// 持锁调用；返回被挤下线的连接（解锁后由调用方关闭）
func (m *ConnManager) ensureRoomForUserLocked(userID string) *WsConn {
	mm := m.byUser[userID]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	if !m.conf.EvictOldest {
		return nil
	}

	var oldest *WsConn
	for _, w := range mm {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	if oldest == nil {
		return nil
	}
	delete(mm, oldest.ConnID)
	delete(m.byConn, oldest.ConnID)
	return oldest
}
