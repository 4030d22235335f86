package config

import (
	"strings"
	"time"

	"RTProject/tools"
)

// AppConfig 网关运行参数，全部来自环境变量。
//
// RTM_NODE_ID          节点ID（雪花nodeID与NATS来源标识）
// RTM_PORT             http 启动端口
// RTM_HEARTBEAT_TTL    心跳存活窗口（可调；默认 75s）
// RTM_PRESENCE_DEBOUNCE 在线状态防抖窗口（协议约定 30s，一般不改）
// RTM_JWT_SECRET       握手令牌 HMAC 密钥
// RTM_MONGO_URI / RTM_MONGO_DB
// RTM_REDIS_ADDR / RTM_REDIS_PASSWORD / RTM_REDIS_DB
// RTM_NATS_SERVERS     逗号分隔；为空则关闭跨节点转发
type AppConfig struct {
	NodeID   string
	NodeNum  int64 // 雪花 nodeID（0~1023）
	Port     int
	GinDebug bool

	HeartbeatTTL     time.Duration
	PresenceDebounce time.Duration
	SweepEvery       time.Duration
	MaxConnsPerUser  int

	JWTSecret string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsServers []string
}

func Load() *AppConfig {
	cfg := &AppConfig{
		NodeID:   tools.GetEnv("RTM_NODE_ID", "gw-1"),
		NodeNum:  int64(tools.GetEnvInt("RTM_NODE_NUM", 1)),
		Port:     tools.GetEnvInt("RTM_PORT", 8080),
		GinDebug: tools.GetEnvBool("RTM_GIN_DEBUG", false),

		HeartbeatTTL:     tools.GetEnvDuration("RTM_HEARTBEAT_TTL", 75*time.Second),
		PresenceDebounce: tools.GetEnvDuration("RTM_PRESENCE_DEBOUNCE", 30*time.Second),
		SweepEvery:       tools.GetEnvDuration("RTM_SWEEP_EVERY", 10*time.Second),
		MaxConnsPerUser:  tools.GetEnvInt("RTM_MAX_CONNS_PER_USER", 5),

		JWTSecret: tools.GetEnv("RTM_JWT_SECRET", "dev-secret"),

		MongoURI: tools.GetEnv("RTM_MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:  tools.GetEnv("RTM_MONGO_DB", "rtm"),

		RedisAddr:     tools.GetEnv("RTM_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: tools.GetEnv("RTM_REDIS_PASSWORD", ""),
		RedisDB:       tools.GetEnvInt("RTM_REDIS_DB", 0),
	}
	if s := tools.GetEnv("RTM_NATS_SERVERS", ""); s != "" {
		cfg.NatsServers = strings.Split(s, ",")
	}
	return cfg
}
