package message

import (
	"context"
	"fmt"

	chatmodel "RTProject/module/chat/model"
	"RTProject/module/chat/seq"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repo 消息存取。写入必须在返回 nil 前完成持久化（广播顺序依赖这一点）。
type Repo interface {
	InsertCommitted(ctx context.Context, env *chatmodel.MessageEnvelope) error
	// ListBefore 取 seq < cursor 的至多 limit 条，按 seq 降序。
	// cursor <= 0 表示从最新开始。空切片 + nil error = 没有更多历史。
	ListBefore(ctx context.Context, roomID string, cursor int64, limit int64) ([]*chatmodel.MessageEnvelope, error)
}

type Store struct {
	MsgColl *mongo.Collection
	SeqDAO  *seq.DAO
}

func NewStore(db *mongo.Database) *Store {
	msg := chatmodel.MessageEnvelope{}
	return &Store{
		MsgColl: db.Collection(msg.GetTableName()),
		SeqDAO:  &seq.DAO{DB: db},
	}
}

// InsertCommitted 写消息并推进房间可读水位。
// 唯一索引 (room_id, seq) 兜底：同号双写在这里必然失败而不是覆盖。
func (s *Store) InsertCommitted(ctx context.Context, env *chatmodel.MessageEnvelope) error {
	if _, err := s.MsgColl.InsertOne(ctx, env); err != nil {
		return err
	}
	return s.SeqDAO.AdvanceCommit(ctx, env.RoomID, env.Seq)
}

func (s *Store) ListBefore(ctx context.Context, roomID string, cursor int64, limit int64) ([]*chatmodel.MessageEnvelope, error) {
	filter := bson.M{chatmodel.MsgFieldRoomID: roomID}
	if cursor > 0 {
		filter[chatmodel.MsgFieldSeq] = bson.M{"$lt": cursor}
	}

	cur, err := s.MsgColl.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: chatmodel.MsgFieldSeq, Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*chatmodel.MessageEnvelope
	for cur.Next(ctx) {
		var m chatmodel.MessageEnvelope
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// EnsureIndexes 幂等建索引；启动时调用。
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	sr := chatmodel.SeqRoom{}
	msg := chatmodel.MessageEnvelope{}
	mem := chatmodel.RoomMember{}

	collections := map[string][]mongo.IndexModel{
		sr.GetTableName(): {{
			Keys:    bson.D{{Key: chatmodel.SeqRoomFieldRoomID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_room"),
		}},
		msg.GetTableName(): {
			{
				Keys: bson.D{{Key: chatmodel.MsgFieldRoomID, Value: 1},
					{Key: chatmodel.MsgFieldSeq, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("ix_room_seq"),
			},
			{
				Keys: bson.D{{Key: chatmodel.MsgFieldRoomID, Value: 1},
					{Key: chatmodel.MsgFieldSendID, Value: 1},
					{Key: chatmodel.MsgFieldSeq, Value: 1}},
				Options: options.Index().SetName("ix_sender_seq"),
			},
		},
		mem.GetTableName(): {{
			Keys: bson.D{{Key: chatmodel.MemberFieldRoomID, Value: 1},
				{Key: chatmodel.MemberFieldUserID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_room_user"),
		}},
	}

	for collName, indexes := range collections {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return fmt.Errorf("list indexes for %s: %w", collName, err)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		for _, idx := range indexes {
			if idx.Options != nil && idx.Options.Name != nil {
				if _, ok := existingNames[*idx.Options.Name]; ok {
					continue
				}
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return fmt.Errorf("create index %s on %s: %w", *idx.Options.Name, collName, err)
			}
		}
	}
	return nil
}
