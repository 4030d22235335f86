package chat

import (
	"context"
	"net/http"
	"time"

	"RTProject/logger"
	"RTProject/tools/decode"
	errs "RTProject/tools/errs"
	security "RTProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 网关前面有接入层做来源控制，这里放行
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	handshakeTimeout = 10 * time.Second
	maxFrameBytes    = 1 << 20
)

// HandleWS WebSocket 接入入口：升级 -> 握手鉴权 -> 注册 -> 读循环。
// 第一帧必须是 handshake，限时完成，失败以 4001 关闭。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade err remote=%s err=%v", c.ClientIP(), err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	w, err := s.performHandshake(ws)
	if err != nil {
		logger.Infof("[ws] handshake rejected remote=%s err=%v", ws.RemoteAddr(), err)
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailure, "auth failed"), deadline)
		_ = ws.Close()
		return
	}
	logger.Infof("[ws] connected connID=%s user=%s remote=%s", w.ConnID, w.UserID, w.Remote)

	s.readLoop(w)
}

// performHandshake 读第一帧并校验令牌；成功才会在注册表占位
func (s *Server) performHandshake(ws *websocket.Conn) (*WsConn, error) {
	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	f, err := ParseFrameJSON(raw)
	if err != nil {
		return nil, err
	}
	if f.Type != FrameHandshake {
		return nil, errs.ErrAuthFailed.WithDetail("first frame must be handshake")
	}
	hp, err := decode.DecodeMap[HandshakePayload](f.PayloadMap())
	if err != nil {
		return nil, errs.ErrAuthFailed.WrapMsg("decode handshake payload", "err", err)
	}
	userID, err := security.VerifyIdentity(s.deps.AuthOpts, hp.Token)
	if err != nil {
		return nil, errs.ErrAuthFailed.WrapMsg("verify token", "err", err)
	}

	w := s.deps.ConnMgr.Register(userID, ws, hp.Rooms)
	if s.deps.Mirror != nil {
		mctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.deps.Mirror.MarkOnline(mctx, userID); err != nil {
			logger.Warnf("[ws] mark online err user=%s err=%v", userID, err)
		}
		cancel()
	}
	return w, nil
}

// readLoop 逐帧分发。应用层静默检测交给 sweeper，读端不设超时：
// sweeper 关掉底层连接后 ReadMessage 会出错返回，循环随之退出。
func (s *Server) readLoop(w *WsConn) {
	defer func() {
		s.deps.ConnMgr.Unregister(w.ConnID, websocket.CloseNormalClosure, "peer closed")
		logger.Infof("[ws] disconnected connID=%s user=%s", w.ConnID, w.UserID)
	}()

	hctx := &Context{S: s}
	for {
		_, raw, err := w.Conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := ParseFrameJSON(raw)
		if err != nil {
			logger.Debugf("[ws] bad frame connID=%s err=%v", w.ConnID, err)
			continue
		}
		if err := s.disp.Dispatch(hctx, f, w); err != nil {
			// 处理器自己负责给客户端回 error 帧；这里只记录
			logger.Infof("[ws] handle %s err connID=%s err=%v", f.Type, w.ConnID, err)
		}
	}
}
