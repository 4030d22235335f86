package member

import (
	"context"

	chatmodel "RTProject/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Reader 成员关系只读视图。本子系统永远不写成员表。
type Reader interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	ListMembers(ctx context.Context, roomID string) ([]string, error)
	RoomsOf(ctx context.Context, userID string) ([]string, error)
}

type Store struct{ DB *mongo.Database }

func NewStore(db *mongo.Database) *Store { return &Store{DB: db} }

func (s *Store) coll() *mongo.Collection {
	m := chatmodel.RoomMember{}
	return s.DB.Collection(m.GetTableName())
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	n, err := s.coll().CountDocuments(ctx, bson.M{
		chatmodel.MemberFieldRoomID: roomID,
		chatmodel.MemberFieldUserID: userID,
		chatmodel.MemberFieldStatus: chatmodel.MemberStatusNormal,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	cur, err := s.coll().Find(ctx,
		bson.M{
			chatmodel.MemberFieldRoomID: roomID,
			chatmodel.MemberFieldStatus: chatmodel.MemberStatusNormal,
		},
		options.Find().SetProjection(bson.M{chatmodel.MemberFieldUserID: 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var row struct {
			UserID string `bson:"user_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, row.UserID)
	}
	return out, cur.Err()
}

func (s *Store) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.coll().Find(ctx,
		bson.M{
			chatmodel.MemberFieldUserID: userID,
			chatmodel.MemberFieldStatus: chatmodel.MemberStatusNormal,
		},
		options.Find().SetProjection(bson.M{chatmodel.MemberFieldRoomID: 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var row struct {
			RoomID string `bson:"room_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, row.RoomID)
	}
	return out, cur.Err()
}

// MemReader 内存成员表（单测用）
type MemReader struct {
	Rooms map[string][]string
}

func (m *MemReader) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	for _, u := range m.Rooms[roomID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemReader) ListMembers(_ context.Context, roomID string) ([]string, error) {
	return append([]string(nil), m.Rooms[roomID]...), nil
}

func (m *MemReader) RoomsOf(_ context.Context, userID string) ([]string, error) {
	var out []string
	for room, users := range m.Rooms {
		for _, u := range users {
			if u == userID {
				out = append(out, room)
				break
			}
		}
	}
	return out, nil
}
