package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/access"
	"github.com/lalith-99/coreoled/internal/api"
	"github.com/lalith-99/coreoled/internal/channel"
	"github.com/lalith-99/coreoled/internal/chum"
	"github.com/lalith-99/coreoled/internal/config"
	"github.com/lalith-99/coreoled/internal/credential"
	"github.com/lalith-99/coreoled/internal/db"
	"github.com/lalith-99/coreoled/internal/discovery"
	"github.com/lalith-99/coreoled/internal/identity"
	"github.com/lalith-99/coreoled/internal/middleware"
	"github.com/lalith-99/coreoled/internal/objectstore"
	"github.com/lalith-99/coreoled/internal/observ"
	"github.com/lalith-99/coreoled/internal/reverseindex"
	"github.com/lalith-99/coreoled/internal/topic"
	"github.com/lalith-99/coreoled/internal/transport/quicvc"
	"github.com/lalith-99/coreoled/internal/transport/wsdirect"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config, logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	self := identity.PersonID(config.GetEnv("SELF_PERSON", "me@"+cfg.DeviceID))

	// ---------------------------------------------------------------
	// 2. Postgres (reverse index + credential trust store), object store
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	reverseIdx := reverseindex.New(database.Pool(), logger)
	store, err := objectstore.New(cfg.ObjectStoreDir, reverseIdx, logger)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	// ---------------------------------------------------------------
	// 3. Identity: ensure this device's Person and default keys exist
	// ---------------------------------------------------------------
	keychain := identity.NewKeychain(store, logger)
	defer keychain.Close()
	if _, err := keychain.EnsurePerson(ctx, self); err != nil {
		return fmt.Errorf("ensure person: %w", err)
	}

	// ---------------------------------------------------------------
	// 4. Credential Manager, own instance VC
	// ---------------------------------------------------------------
	credStore := credential.NewPostgresStore(database.Pool())
	credManager := credential.New(credStore, keychain, logger)

	signPub, _, ok := keychain.PublicKeys(self)
	if !ok {
		return fmt.Errorf("no keys generated for self")
	}
	selfInstance := identity.NewInstanceID(self, cfg.DeviceID)
	selfVC, err := credManager.Issue(self, self, selfInstance, signPub, []string{"sync"}, 365*24*time.Hour)
	if err != nil {
		return fmt.Errorf("issue self instance VC: %w", err)
	}

	// ---------------------------------------------------------------
	// 5. Topic & Group Manager / Access Engine / Channel Manager — see
	//    internal/topic.Manager.BindAccess for why construction order
	//    looks circular: Manager implements access.GroupResolver, so it
	//    must exist before the engine that depends on it.
	// ---------------------------------------------------------------
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	topicManager := topic.New(store, nil, self, logger)
	accessEngine := access.New(store, topicManager, redisClient, logger)

	chumEngine := chum.New(store, accessEngine, logger)
	channelManager := channel.New(store, accessEngine, chumEngine, logger)
	topicManager = topic.New(store, channelManager, self, logger)
	topicManager.BindAccess(accessEngine)

	// ---------------------------------------------------------------
	// 6. Pairing — its signing keypair is independent of identity keys:
	//    invitation tokens aren't credentials, just short-lived bearer
	//    nonces, so there is nothing to gain from routing them through
	//    the keychain's locked-memory discipline.
	// ---------------------------------------------------------------
	pairingPub, pairingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate pairing key: %w", err)
	}
	pairing := topic.NewPairing(pairingPriv, pairingPub, logger)

	// ---------------------------------------------------------------
	// 7. Peer-facing transports
	// ---------------------------------------------------------------
	quicListener, err := quicvc.ListenUDP(cfg.QUICVCAddr, logger, func(pt quicvc.PacketTransport, raddr *net.UDPAddr) {
		go func() {
			conn, err := quicvc.Accept(ctx, pt, selfVC, credManager, logger)
			if err != nil {
				logger.Warn("quic-vc accept failed", zap.String("remote", raddr.String()), zap.Error(err))
				return
			}
			logger.Info("quic-vc peer connected", zap.String("remote", raddr.String()), zap.String("subject", string(conn.RemoteVC().Subject)))
			session := chumEngine.AddSession(conn.RemoteVC().Subject, conn)
			if err := session.Run(ctx); err != nil {
				logger.Info("quic-vc session ended", zap.Error(err))
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("listen quic-vc: %w", err)
	}
	defer quicListener.Close()

	wsServer := wsdirect.NewServer(logger)
	wsHandler := wsServer.Handler(func(c *wsdirect.Conn) {
		logger.Info("direct websocket peer connected")
		session := chumEngine.AddSession(self, c)
		if err := session.Run(ctx); err != nil {
			logger.Info("direct websocket session ended", zap.Error(err))
		}
	})
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/", wsHandler)
		if err := http.ListenAndServe(cfg.WSDirectAddr, mux); err != nil {
			logger.Error("wsdirect listener stopped", zap.Error(err))
		}
	}()

	discoverySvc, err := discovery.New(cfg.DeviceID, cfg.DeviceName, []string{"quic-vc", "ws-direct"}, cfg.WSDirectPort, logger, discovery.Callbacks{
		OnDiscovered: func(p discovery.Peer) {
			logger.Info("peer discovered", zap.String("device", p.DeviceID), zap.String("address", p.Address))
		},
		OnLost: func(deviceID string) {
			logger.Info("peer lost", zap.String("device", deviceID))
		},
	})
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	discoveryCtx, cancelDiscovery := context.WithCancel(ctx)
	defer cancelDiscovery()
	go func() {
		if err := discoverySvc.Run(discoveryCtx); err != nil {
			logger.Info("discovery stopped", zap.Error(err))
		}
	}()

	// ---------------------------------------------------------------
	// 8. Local control API
	// ---------------------------------------------------------------
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	sessionHandler := api.NewSessionHandler(self, cfg.JWTSecret, 24*time.Hour, logger)
	topicHandler := api.NewTopicHandler(topicManager, channelManager, logger)
	pairingHandler := api.NewPairingHandler(pairing, logger)
	identityHandler := api.NewIdentityHandler(self, logger)

	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	srv.POST("/v1/session", sessionHandler.Create)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/me", identityHandler.Me)

	v1.POST("/topics", topicHandler.Create)
	v1.POST("/topics/:id/participants", topicHandler.AddParticipants)
	v1.POST("/topics/:id/messages", topicHandler.AppendMessage)
	v1.GET("/topics/:id/messages", topicHandler.Messages)

	v1.POST("/pairing/invitations", pairingHandler.CreateInvitation)
	v1.POST("/pairing/consume", pairingHandler.ConsumeInvitation)

	logger.Info("starting coreoled",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("self", string(self)),
		zap.String("quicvc_addr", cfg.QUICVCAddr),
		zap.String("wsdirect_addr", cfg.WSDirectAddr),
	)

	return srv.Run(":" + cfg.Port)
}
