package handler

import (
	"context"
	"time"

	"RTProject/service/chat"
)

// HeartbeatHandler 刷新连接存活窗口并回 heartbeat_reply。
// 心跳带房间号时顺带并入订阅（重连后客户端靠心跳重新声明房间）。
type HeartbeatHandler struct{}

func (h *HeartbeatHandler) Type() chat.FrameType { return chat.FrameHeartbeat }

func (h *HeartbeatHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	if err := ctx.S.ConnMgr().Heartbeat(conn.ConnID, f.Room); err != nil {
		return err
	}

	if m := ctx.S.Mirror(); m != nil {
		mctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.MarkOnline(mctx, conn.UserID)
		cancel()
	}

	return conn.EnqueueFrame(chat.BuildHeartbeatReply(f.Room))
}
