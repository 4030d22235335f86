package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"RTProject/global/config"
	"RTProject/logger"
	"RTProject/module/chat/member"
	"RTProject/module/chat/message"
	"RTProject/module/chat/seq"
	"RTProject/service/chat"
	"RTProject/service/chat/handler"
	"RTProject/service/mgo"
	"RTProject/service/natsx"
	"RTProject/service/presence"
	redisstore "RTProject/service/storage/redis"
	"RTProject/tools/ids"
	security "RTProject/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	ids.SetNodeID(cfg.NodeNum)

	if !cfg.GinDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ===== 存储层 =====
	if err := mgo.Init(rootCtx, mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDB}); err != nil {
		logger.Errorf("[boot] mongo init err=%v", err)
		return
	}
	defer func() { _ = mgo.Close(context.Background()) }()

	if err := message.EnsureIndexes(rootCtx, mgo.GetDB()); err != nil {
		logger.Errorf("[boot] ensure indexes err=%v", err)
		return
	}

	if err := redisstore.InitRedis(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		logger.Errorf("[boot] redis init err=%v", err)
		return
	}
	defer func() { _ = redisstore.CloseRedis() }()

	// ===== 域服务 =====
	alloc := &seq.RedisAllocator{
		Rdb: redisstore.GetRedis(),
		DAO: &seq.DAO{DB: mgo.GetDB()},
	}
	repo := message.NewStore(mgo.GetDB())
	members := member.NewStore(mgo.GetDB())

	mirror := presence.NewMirror(redisstore.GetRedis(), presence.MirrorConfig{
		NodeID: cfg.NodeID,
	})
	mirrorSink := mirror.Sink(rootCtx)

	// 事件出口分两路：对同房间连接广播 + Redis 镜像。
	// srv/connMgr 在 tracker 之后才建好，闭包延迟取值。
	var srv *chat.Server
	var connMgr *chat.ConnManager
	tracker := presence.NewTracker(func(ev presence.Event) {
		if srv != nil {
			srv.NotifyPresence(ev)
		}
		mirrorSink(ev)
	},
		presence.WithDebounce(cfg.PresenceDebounce),
		presence.WithLiveCheck(func(userID string) bool {
			if connMgr == nil {
				return false
			}
			return connMgr.HasConns(userID)
		}),
	)

	connMgr = chat.NewConnManager(chat.ManagerConf{
		HeartbeatTTL: cfg.HeartbeatTTL,
		SweepEvery:   cfg.SweepEvery,
		MaxPerUser:   cfg.MaxConnsPerUser,
		EvictOldest:  true,
	}, cfg.NodeID, tracker)
	defer connMgr.Close()

	acks := chat.NewAckTable(chat.AckConf{})
	defer acks.Close()

	bcast := chat.NewBroadcaster(connMgr, members, acks)

	// NATS 不配则退化为单节点（历史补拉仍然可用）
	var nm *natsx.NatsManager
	if len(cfg.NatsServers) > 0 {
		var err error
		nm, err = natsx.NewNatsManager(natsx.NatsxConfig{
			Servers: cfg.NatsServers,
			Name:    "rtm-" + cfg.NodeID,
		})
		if err != nil {
			logger.Errorf("[boot] nats connect err=%v", err)
			return
		}
		defer func() { _ = nm.Close() }()
		bcast.Relay = chat.NewRelay(nm, cfg.NodeID)
	}

	pipe := message.NewPipeline(members, alloc, repo, bcast, acks)

	srv = chat.NewServer(chat.ServerDeps{
		GwID:     cfg.NodeID,
		ConnMgr:  connMgr,
		Pipeline: pipe,
		Members:  members,
		Repo:     repo,
		Bcast:    bcast,
		Tracker:  tracker,
		Mirror:   mirror,
		AuthOpts: security.DefaultOptions([]byte(cfg.JWTSecret)),
	})
	srv.Disp().Register(&handler.HeartbeatHandler{})
	srv.Disp().Register(&handler.DraftHandler{})
	srv.Disp().Register(&handler.EnterHandler{})

	if bcast.Relay != nil {
		if err := bcast.Relay.Start(rootCtx, bcast); err != nil {
			logger.Errorf("[boot] relay subscribe err=%v", err)
			return
		}
	}

	// ===== HTTP =====
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", srv.HandleWS)
	r.GET("/api/rooms/:room/history", srv.HandleHistory)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[boot] gateway %s listening on %s", cfg.NodeID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] listen err=%v", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Infof("[boot] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
}
