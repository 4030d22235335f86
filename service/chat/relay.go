package chat

import (
	"context"
	"encoding/json"

	"RTProject/logger"
	chatmodel "RTProject/module/chat/model"
	"RTProject/service/natsx"

	"github.com/nats-io/nats.go"
)

// ===== 跨节点转发 =====
//
// 信封已经落库，转发只解决“成员连在别的网关”这一件事。
// Core 模式即可：转发丢了由客户端游标补拉兜底，不需要 JetStream。

const (
	relaySubjectPrefix = "rtm.room."
	relaySubjectAll    = "rtm.room.>"
	relayHeaderOrigin  = "Rtm-Origin"
)

type Relay struct {
	nm     *natsx.NatsManager
	nodeID string
}

func NewRelay(nm *natsx.NatsManager, nodeID string) *Relay {
	return &Relay{nm: nm, nodeID: nodeID}
}

func (r *Relay) PublishEnvelope(env *chatmodel.MessageEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.nm.Publish(relaySubjectPrefix+env.RoomID, data,
		map[string]string{relayHeaderOrigin: r.nodeID})
}

// Start 订阅全部房间主题，投给本节点连接；自己发出的跳过。
// 跨节点只保证到达，不保证与 seq 一致的到达顺序：多网关并发发布时
// 远端可能先见 n+1 后见 n，排序由客户端按 seq 收敛，缺口走游标补拉。
// 本节点内的顺序仍由房间锁串行，不受此影响。
func (r *Relay) Start(ctx context.Context, b *Broadcaster) error {
	return r.nm.Subscribe(relaySubjectAll, func(subject string, header nats.Header, data []byte) error {
		if header.Get(relayHeaderOrigin) == r.nodeID {
			return nil
		}
		var env chatmodel.MessageEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warnf("[relay] bad envelope subject=%s err=%v", subject, err)
			return err
		}
		b.DeliverLocal(ctx, &env)
		return nil
	})
}
