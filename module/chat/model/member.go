package model

import (
	"time"

	"RTProject/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	MemberFieldRoomID = "room_id"
	MemberFieldUserID = "user_id"
	MemberFieldStatus = "status"
)

const (
	MemberStatusNormal int32 = 0
	MemberStatusQuit   int32 = 1
	MemberStatusKicked int32 = 2
)

// RoomMember 房间成员记录（唯一键: room_id+user_id）。
// 本子系统只读这张表，成员的增删由外部 CRUD 服务维护。
type RoomMember struct {
	RoomID string `bson:"room_id"`
	UserID string `bson:"user_id"`

	Status   int32     `bson:"status"` // 0=正常,1=已退出,2=被踢
	JoinTime time.Time `bson:"join_time"`
	QuitTime time.Time `bson:"quit_time,omitempty"`
}

func (*RoomMember) GetTableName() string { return "room_member" }

func (m *RoomMember) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}
