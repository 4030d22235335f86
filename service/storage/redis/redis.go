package redis

import (
	"context"
	"sync"
	"time"

	"RTProject/logger"

	"github.com/redis/go-redis/v9"
)

// 发号段与在线镜像共用这一个客户端；启动期 ping 失败直接拒绝起服，
// 不留一个半残的网关在线上。

const pingTimeout = 3 * time.Second

// Config 对应 RTM_REDIS_* 环境变量（见 global/config）。
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func (c *Config) norm() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 64
	}
}

var (
	once   sync.Once
	client *redis.Client
)

// InitRedis 建立单例客户端并 ping（fail fast）。
func InitRedis(c Config) error {
	var initErr error
	once.Do(func() {
		c.norm()
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			initErr = err
			return
		}

		client = rdb
		logger.Infof("[redis] connected addr=%s db=%d pool=%d", c.Addr, c.DB, c.PoolSize)
	})
	return initErr
}

func GetRedis() *redis.Client {
	if client == nil {
		panic("redis not initialized, call InitRedis first")
	}
	return client
}

func CloseRedis() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
