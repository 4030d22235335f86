package chat

import (
	"context"
	"sync"
	"time"

	"RTProject/module/chat/member"
	"RTProject/module/chat/message"
	"RTProject/service/presence"
	security "RTProject/tools/security"
)

// Context 递给各个帧处理器的句柄
type Context struct {
	S *Server
}

type Handler interface {
	Handle(ctx *Context, f *Frame, conn *WsConn) error
	Type() FrameType
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[FrameType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[FrameType]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	d.handlers[h.Type()] = h
	d.mu.Unlock()
}

func (d *Dispatcher) GetHandler(t FrameType) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[t]
}

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, conn *WsConn) error {
	h := d.GetHandler(f.Type)
	if h == nil {
		return nil
	}
	return h.Handle(ctx, f, conn)
}

// ===== Server =====

type ServerDeps struct {
	GwID     string
	ConnMgr  *ConnManager
	Pipeline *message.Pipeline
	Members  member.Reader
	Repo     message.Repo
	Bcast    *Broadcaster
	Tracker  *presence.Tracker
	Mirror   *presence.Mirror // 可为 nil
	AuthOpts security.Options

	HistoryLimit    int // 单页上限，默认 50，封顶 100
	HistoryMaxLimit int
}

type Server struct {
	deps ServerDeps
	disp *Dispatcher
}

func NewServer(deps ServerDeps) *Server {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 50
	}
	if deps.HistoryMaxLimit <= 0 {
		deps.HistoryMaxLimit = 100
	}
	return &Server{deps: deps, disp: NewDispatcher()}
}

func (s *Server) GwID() string                { return s.deps.GwID }
func (s *Server) ConnMgr() *ConnManager       { return s.deps.ConnMgr }
func (s *Server) Disp() *Dispatcher           { return s.disp }
func (s *Server) Pipeline() *message.Pipeline { return s.deps.Pipeline }
func (s *Server) Members() member.Reader      { return s.deps.Members }
func (s *Server) Repo() message.Repo          { return s.deps.Repo }
func (s *Server) Bcast() *Broadcaster         { return s.deps.Bcast }
func (s *Server) Tracker() *presence.Tracker  { return s.deps.Tracker }
func (s *Server) Mirror() *presence.Mirror    { return s.deps.Mirror }

// NotifyPresence 接 presence.Tracker 的事件出口
func (s *Server) NotifyPresence(ev presence.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.deps.Bcast.BroadcastPresence(ctx, ev.UserID, ev.Online, ev.Ts)
}
