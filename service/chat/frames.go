package chat

import (
	"encoding/json"
	"fmt"
	"time"

	chatmodel "RTProject/module/chat/model"
	errs "RTProject/tools/errs"
)

// ===== 帧协议 =====
//
// 入站：handshake / heartbeat / draft / enter
// 出站：message / ack / presence / heartbeat_reply / error
// 统一 JSON 编码；动态负载放 payload，由 tools/decode 宽松解码。

type FrameType string

const (
	FrameHandshake FrameType = "handshake"
	FrameHeartbeat FrameType = "heartbeat"
	FrameDraft     FrameType = "draft"
	FrameEnter     FrameType = "enter"

	FrameMessage        FrameType = "message"
	FrameAck            FrameType = "ack"
	FramePresence       FrameType = "presence"
	FrameHeartbeatReply FrameType = "heartbeat_reply"
	FrameError          FrameType = "error"
)

// 关闭码：客户端按码区分重连策略（鉴权失败要换令牌，超时直接重连）
const (
	CloseAuthFailure = 4001
	CloseIdleTimeout = 4002
	CloseKicked      = 4003
)

type Frame struct {
	Type    FrameType `json:"type"`
	Ts      int64     `json:"ts,omitempty"`
	Room    string    `json:"room,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// PayloadMap 入站帧的动态负载（JSON 反序列化后一定是 map 或 nil）
func (f *Frame) PayloadMap() map[string]any {
	if m, ok := f.Payload.(map[string]any); ok {
		return m
	}
	return nil
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return frame, nil
}

func EncodeFrameJSON(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func mustEncode(f *Frame) []byte {
	b, err := EncodeFrameJSON(f)
	if err != nil {
		// 帧全部由服务端构造，编不出来属于编程错误
		panic(fmt.Sprintf("encode frame: %v", err))
	}
	return b
}

// EnqueueFrame 编码后走连接自己的发送队列
func (w *WsConn) EnqueueFrame(f *Frame) error {
	return w.Enqueue(mustEncode(f))
}

// ===== 入站负载 =====

type HandshakePayload struct {
	Token string   `json:"token"`
	Rooms []string `json:"rooms,omitempty"` // 初始订阅
}

type DraftPayload struct {
	Room        string `json:"room"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type EnterPayload struct {
	Rooms []string `json:"rooms"`
}

// ===== 服务端回执构造 =====

func BuildMessageFrame(env *chatmodel.MessageEnvelope) *Frame {
	return &Frame{
		Type:    FrameMessage,
		Ts:      time.Now().UnixMilli(),
		Room:    env.RoomID,
		Payload: env,
	}
}

// BuildAckFrame 草稿回执：草稿ID + 最终序号，发送端用它原位替换乐观副本
func BuildAckFrame(env *chatmodel.MessageEnvelope) *Frame {
	return &Frame{
		Type: FrameAck,
		Ts:   time.Now().UnixMilli(),
		Room: env.RoomID,
		Payload: map[string]any{
			"client_msg_id": env.ClientMsgID,
			"seq":           env.Seq,
			"server_msg_id": env.ServerMsgID,
		},
	}
}

func BuildPresenceFrame(userID string, online bool, ts int64) *Frame {
	state := "offline"
	if online {
		state = "online"
	}
	return &Frame{
		Type: FramePresence,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"user_id": userID,
			"state":   state,
			"ts":      ts,
		},
	}
}

func BuildHeartbeatReply(room string) *Frame {
	return &Frame{
		Type: FrameHeartbeatReply,
		Ts:   time.Now().UnixMilli(),
		Room: room,
	}
}

// BuildErrorFrame 被拒提交的同步回执（错误分类(a)，只发给提交连接）
func BuildErrorFrame(room string, clientMsgID string, err error) *Frame {
	ce := errs.CodeOf(err)
	payload := map[string]any{
		"code": ce.Code,
		"msg":  ce.Msg,
	}
	if clientMsgID != "" {
		payload["client_msg_id"] = clientMsgID
	}
	return &Frame{
		Type:    FrameError,
		Ts:      time.Now().UnixMilli(),
		Room:    room,
		Payload: payload,
	}
}
