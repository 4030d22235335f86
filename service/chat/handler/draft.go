package handler

import (
	"context"
	"time"

	"RTProject/logger"
	"RTProject/module/chat/message"
	"RTProject/service/chat"
	"RTProject/tools/decode"
	errs "RTProject/tools/errs"
)

const submitTimeout = 5 * time.Second

// DraftHandler 入站投稿 -> 消息主链路。
// 被拒的草稿只给提交连接回一帧 error，房间里其他人毫无感知。
type DraftHandler struct{}

func (h *DraftHandler) Type() chat.FrameType { return chat.FrameDraft }

func (h *DraftHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	dp, err := decode.DecodeMap[chat.DraftPayload](f.PayloadMap())
	if err != nil {
		return h.reject(conn, f.Room, "", errs.ErrBadPayload.WrapMsg(err.Error()))
	}
	room := dp.Room
	if room == "" {
		room = f.Room
	}

	// 提交用独立上下文：连接中途断开不取消已受理消息的落库
	sctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	env, err := ctx.S.Pipeline().Submit(sctx, message.Draft{
		RoomID:      room,
		Sender:      conn.UserID,
		Content:     dp.Content,
		ClientMsgID: dp.ClientMsgID,
		ConnID:      conn.ConnID,
	})
	if err != nil {
		return h.reject(conn, room, dp.ClientMsgID, err)
	}

	logger.Debugf("[draft] accepted room=%s seq=%d user=%s", env.RoomID, env.Seq, conn.UserID)
	return nil
}

func (h *DraftHandler) reject(conn *chat.WsConn, room, clientMsgID string, err error) error {
	if eerr := conn.EnqueueFrame(chat.BuildErrorFrame(room, clientMsgID, err)); eerr != nil {
		logger.Infof("[draft] reject notify drop connID=%s err=%v", conn.ConnID, eerr)
	}
	return err
}
