package chat

import (
	"context"

	"RTProject/logger"
	"RTProject/module/chat/member"
	"RTProject/module/chat/message"
	chatmodel "RTProject/module/chat/model"
)

// ===== 扇出 =====

// Broadcaster 把一个已落库的信封推给“房间成员 ∩ 本节点活跃连接”。
// 逐连接独立：每条连接只是非阻塞入队，坏连接只记一笔账，
// 既不拖慢别的连接，也不影响 submit 的结果（消息已经持久化了）。
// 本层不做重试；漏投的客户端靠重连 + 游标补拉自愈。
type Broadcaster struct {
	Conns   *ConnManager
	Members member.Reader
	Acks    *AckTable
	Relay   *Relay // nil = 单节点部署
}

func NewBroadcaster(conns *ConnManager, members member.Reader, acks *AckTable) *Broadcaster {
	return &Broadcaster{Conns: conns, Members: members, Acks: acks}
}

// Deliver 本地扇出 + （如配置了）跨节点转发。实现 message.Delivery。
func (b *Broadcaster) Deliver(ctx context.Context, env *chatmodel.MessageEnvelope) message.DeliveryReport {
	rep := b.DeliverLocal(ctx, env)
	if b.Relay != nil {
		if err := b.Relay.PublishEnvelope(env); err != nil {
			// 远端节点的成员靠补拉兜底，这里只记日志
			logger.Warnf("[bcast] relay publish err room=%s seq=%d err=%v", env.RoomID, env.Seq, err)
		}
	}
	return rep
}

// DeliverLocal 只投本节点连接（NATS 消费侧复用，避免回声循环）。
func (b *Broadcaster) DeliverLocal(ctx context.Context, env *chatmodel.MessageEnvelope) message.DeliveryReport {
	var rep message.DeliveryReport

	users, err := b.Members.ListMembers(ctx, env.RoomID)
	if err != nil {
		logger.Errorf("[bcast] list members err room=%s err=%v", env.RoomID, err)
		return rep
	}

	msgBytes := mustEncode(BuildMessageFrame(env))

	for _, u := range users {
		for _, w := range b.Conns.SnapshotUser(u) {
			if !w.InRoom(env.RoomID) {
				continue
			}

			data := msgBytes
			// 发送者自己的提交连接：收 ack 帧而不是 message 帧
			if env.ClientMsgID != "" && w.UserID == env.SendID &&
				b.Acks != nil && b.Acks.Resolve(env.ClientMsgID, w.ConnID) {
				data = mustEncode(BuildAckFrame(env))
			}

			if err := w.Enqueue(data); err != nil {
				rep.Failed++
				logger.Infof("[bcast] drop connID=%s user=%s room=%s seq=%d err=%v",
					w.ConnID, w.UserID, env.RoomID, env.Seq, err)
				continue
			}
			rep.Delivered++
		}
	}
	return rep
}

// BroadcastPresence 把在线状态变化推给同房间的连接（不含本人）。
func (b *Broadcaster) BroadcastPresence(ctx context.Context, userID string, online bool, ts int64) {
	rooms, err := b.Members.RoomsOf(ctx, userID)
	if err != nil {
		logger.Errorf("[bcast] rooms of user err user=%s err=%v", userID, err)
		return
	}
	if len(rooms) == 0 {
		return
	}

	data := mustEncode(BuildPresenceFrame(userID, online, ts))
	for _, w := range b.Conns.SnapshotRooms(rooms) {
		if w.UserID == userID {
			continue
		}
		if err := w.Enqueue(data); err != nil {
			logger.Debugf("[bcast] presence drop connID=%s err=%v", w.ConnID, err)
		}
	}
}
