package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ===== Redis 在线状态镜像 =====
//
// Tracker 是权威；Redis 只是跨节点/REST 侧的只读镜像。
// key 约定：ol:u:<userId> = 节点ID，带 TTL；节点挂掉镜像自然过期。

// 标记在线：SET key node EX ttl，并把用户挂进节点索引
// KEYS[1] = user key; KEYS[2] = node index zset
// ARGV[1] = nodeID; ARGV[2] = ttlSeconds; ARGV[3] = expireAtUnix
const luaMarkOnline = `
local uk    = KEYS[1]
local nidx  = KEYS[2]
local node  = ARGV[1]
local ttl   = tonumber(ARGV[2])
local expAt = tonumber(ARGV[3])

redis.call("SET", uk, node, "EX", ttl)
redis.call("ZADD", nidx, expAt, uk)
redis.call("EXPIRE", nidx, ttl * 2)
return 1
`

// 标记离线（幂等）：只删自己节点写入的镜像，避免覆盖别节点的在线态
// KEYS[1] = user key; KEYS[2] = node index zset
// ARGV[1] = nodeID
// 返回：1=删了；0=镜像不存在或属于别的节点
const luaMarkOffline = `
local uk   = KEYS[1]
local nidx = KEYS[2]
local node = ARGV[1]

local owner = redis.call("GET", uk)
redis.call("ZREM", nidx, uk)
if owner == node then
  redis.call("DEL", uk)
  return 1
end
return 0
`

type MirrorConfig struct {
	NodeID string
	TTL    time.Duration // 镜像TTL；由在线心跳续期
}

type Mirror struct {
	rdb  redis.Scripter
	conf MirrorConfig

	markOnline  *redis.Script
	markOffline *redis.Script
}

func NewMirror(rdb redis.Scripter, conf MirrorConfig) *Mirror {
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Minute
	}
	return &Mirror{
		rdb:         rdb,
		conf:        conf,
		markOnline:  redis.NewScript(luaMarkOnline),
		markOffline: redis.NewScript(luaMarkOffline),
	}
}

func userKey(userID string) string { return "ol:u:" + userID }

func (m *Mirror) nodeIndexKey() string { return "ol:nidx:" + m.conf.NodeID }

func (m *Mirror) MarkOnline(ctx context.Context, userID string) error {
	ttl := int64(m.conf.TTL / time.Second)
	expAt := time.Now().Add(m.conf.TTL).Unix()
	return m.markOnline.Run(ctx, m.rdb,
		[]string{userKey(userID), m.nodeIndexKey()},
		m.conf.NodeID, ttl, expAt,
	).Err()
}

func (m *Mirror) MarkOffline(ctx context.Context, userID string) error {
	return m.markOffline.Run(ctx, m.rdb,
		[]string{userKey(userID), m.nodeIndexKey()},
		m.conf.NodeID,
	).Err()
}

// Sink 把 Tracker 的事件接到镜像上（与对外广播并联）。
func (m *Mirror) Sink(ctx context.Context) func(Event) {
	return func(ev Event) {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if ev.Online {
			_ = m.MarkOnline(cctx, ev.UserID)
		} else {
			_ = m.MarkOffline(cctx, ev.UserID)
		}
	}
}
