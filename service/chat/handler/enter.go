package handler

import (
	"RTProject/service/chat"
	"RTProject/tools/decode"
	errs "RTProject/tools/errs"
)

// EnterHandler 订阅房间。订阅是轻量声明，不做成员校验：
// 扇出按成员表取人，订了不是成员的房间也收不到任何消息。
// 帧可以只带顶层 room、只带 payload.rooms，或两者都带。
type EnterHandler struct{}

func (h *EnterHandler) Type() chat.FrameType { return chat.FrameEnter }

func (h *EnterHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	ep := &chat.EnterPayload{}
	if pm := f.PayloadMap(); pm != nil {
		var err error
		ep, err = decode.DecodeMap[chat.EnterPayload](pm)
		if err != nil {
			return errs.ErrBadPayload.WrapMsg(err.Error())
		}
	}
	if f.Room != "" {
		conn.EnterRoom(f.Room)
	}
	for _, r := range ep.Rooms {
		conn.EnterRoom(r)
	}
	return nil
}
