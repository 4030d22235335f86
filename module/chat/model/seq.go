package model

import (
	"time"

	"RTProject/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	SeqRoomFieldRoomID     = "room_id"
	SeqRoomFieldIssuedSeq  = "issued_seq"
	SeqRoomFieldMaxSeq     = "max_seq"
	SeqRoomFieldCreateTime = "create_time"
	SeqRoomFieldUpdateTime = "update_time"
)

// SeqRoom 维护单个房间消息流的发号水位。
// IssuedSeq 是已预分配的最大序号（段租借的上界），MaxSeq 是已提交可读的
// 最大序号；两者之差是在途/作废的缺口，缺口容忍、永不复用。
type SeqRoom struct {
	RoomID    string `bson:"room_id"`
	IssuedSeq int64  `bson:"issued_seq"` // 已发出（预分配）的最大序号
	MaxSeq    int64  `bson:"max_seq"`    // 已提交可读水位

	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (*SeqRoom) GetTableName() string { return "seq_room" }

func (s *SeqRoom) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(s.GetTableName())
}
