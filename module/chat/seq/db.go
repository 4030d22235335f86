package seq

import (
	"context"
	"time"

	chatmodel "RTProject/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DAO struct{ DB *mongo.Database }

// AllocSegment 原子从 Mongo 领一段：issued_seq += block，返回 [start,end]。
// FindOneAndUpdate 带 upsert，是整个发号链路里唯一要求可串行化的持久操作。
func (d *DAO) AllocSegment(ctx context.Context, roomID string, block int64) (start, end int64, err error) {
	if block <= 0 {
		block = 256
	}
	sr := chatmodel.SeqRoom{}
	c := d.DB.Collection(sr.GetTableName())
	now := time.Now()

	filter := bson.M{chatmodel.SeqRoomFieldRoomID: roomID}
	update := bson.M{
		"$inc":         bson.M{chatmodel.SeqRoomFieldIssuedSeq: block},
		"$setOnInsert": bson.M{chatmodel.SeqRoomFieldMaxSeq: int64(0), chatmodel.SeqRoomFieldCreateTime: now},
		"$set":         bson.M{chatmodel.SeqRoomFieldUpdateTime: now},
	}

	var before struct {
		IssuedSeq int64 `bson:"issued_seq"`
	}
	err = c.FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil && err != mongo.ErrNoDocuments {
		return 0, 0, err
	}
	old := before.IssuedSeq // 不存在时视为0
	return old + 1, old + block, nil
}

// AdvanceCommit 提交可读水位：max_seq = max(max_seq, toSeq)
func (d *DAO) AdvanceCommit(ctx context.Context, roomID string, toSeq int64) error {
	sr := chatmodel.SeqRoom{}
	c := d.DB.Collection(sr.GetTableName())

	_, err := c.UpdateOne(ctx,
		bson.M{chatmodel.SeqRoomFieldRoomID: roomID},
		bson.M{"$max": bson.M{chatmodel.SeqRoomFieldMaxSeq: toSeq},
			"$set": bson.M{chatmodel.SeqRoomFieldUpdateTime: time.Now()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// CurrentMax 当前可读水位（客户端补拉缺口时的上界）
func (d *DAO) CurrentMax(ctx context.Context, roomID string) (int64, error) {
	sr := chatmodel.SeqRoom{}
	c := d.DB.Collection(sr.GetTableName())

	var out struct {
		MaxSeq int64 `bson:"max_seq"`
	}
	err := c.FindOne(ctx,
		bson.M{chatmodel.SeqRoomFieldRoomID: roomID},
		options.FindOne().SetProjection(bson.M{chatmodel.SeqRoomFieldMaxSeq: 1}),
	).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return out.MaxSeq, nil
}
