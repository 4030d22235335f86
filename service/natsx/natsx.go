package natsx

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsxHandler 收到一条消息；返回错误仅用于日志，Core 模式无重投。
type NatsxHandler func(subject string, header nats.Header, data []byte) error

// NatsManager 统一门面：网关之间的信封转发只用 Core 模式，
// 可靠性由消息先落库 + 游标补拉兜底，不需要 JetStream。
type NatsManager struct {
	cfg NatsxConfig
	nc  *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNatsManager(cfg NatsxConfig) (*NatsManager, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsManager{cfg: cfg, nc: nc}, nil
}

// Publish 带 header 发布
func (m *NatsManager) Publish(subject string, data []byte, hdr map[string]string) error {
	if m == nil || m.nc == nil {
		return errors.New("manager not initialized")
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return m.nc.PublishMsg(msg)
}

// Subscribe 广播订阅（每个网关节点都收到一份；queue 置空是刻意的）
func (m *NatsManager) Subscribe(subject string, h NatsxHandler) error {
	if m == nil || m.nc == nil {
		return errors.New("manager not initialized")
	}
	sub, err := m.nc.Subscribe(subject, func(msg *nats.Msg) {
		_ = h(msg.Subject, msg.Header, msg.Data)
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.nc == nil {
		return nil
	}
	m.mu.Lock()
	for _, s := range m.subs {
		_ = s.Unsubscribe()
	}
	m.subs = nil
	m.mu.Unlock()
	m.nc.Close()
	return nil
}
