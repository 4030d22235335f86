package model

import (
	"RTProject/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// ===== 常量 & 字段名 =====

const MsgTableName = "message"

const (
	MsgFieldRoomID      = "room_id"
	MsgFieldSeq         = "seq"
	MsgFieldSendID      = "send_id"
	MsgFieldServerMsgID = "server_msg_id"
	MsgFieldClientMsgID = "client_msg_id"
	MsgFieldContent     = "content"
	MsgFieldCreateTime  = "create_time"
)

// MessageEnvelope 一条已定序消息的落库形态。
// 不变式：Seq 一旦分配并落库，整条记录不可再变；回放必须逐字节一致，
// 所以这里只存原始内容字符串，不存任何会被后续更新的状态位。
type MessageEnvelope struct {
	RoomID      string `bson:"room_id" json:"room_id"`
	Seq         int64  `bson:"seq" json:"seq"`                                    // 房间内自增序列（排序键 + 分页游标）
	SendID      string `bson:"send_id" json:"send_id"`                            // 发送者身份
	ServerMsgID string `bson:"server_msg_id" json:"server_msg_id"`                // 服务端雪花ID
	ClientMsgID string `bson:"client_msg_id,omitempty" json:"client_msg_id,omitempty"` // 客户端草稿ID（ack对账用）
	Content     string `bson:"content" json:"content"`                            // 对本层不透明
	CreateTime  int64  `bson:"create_time" json:"create_time"`                    // Unix ms
}

func (*MessageEnvelope) GetTableName() string { return MsgTableName }

func (m *MessageEnvelope) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}
