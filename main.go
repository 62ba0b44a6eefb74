package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-service/internal/apiclient"
	"marketplace-service/internal/config"
	"marketplace-service/internal/handlers"
	"marketplace-service/internal/middleware"
	"marketplace-service/internal/models"
	"marketplace-service/internal/observability"
	"marketplace-service/internal/queue"
	"marketplace-service/internal/rabbitmq"
	"marketplace-service/internal/realtime"
	"marketplace-service/internal/store"
	"marketplace-service/internal/telemetry"
	"marketplace-service/internal/transport"
)

func main() {
	cfg := config.Load()

	conversationStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage backend: %v", err)
	}
	defer conversationStore.Close()

	requestQueue := queue.New(queue.Options{
		Workers:       cfg.QueueWorkers,
		BaseBackoff:   cfg.QueueBaseBackoff,
		MaxBackoff:    cfg.QueueMaxBackoff,
		ActionTimeout: cfg.APITimeout,
	})

	backend := apiclient.New(cfg.APIBaseURL, cfg.APIKey, requestQueue, cfg.APITimeout)

	session := realtime.NewSession(buildTransport(cfg), conversationStore, realtime.Options{
		TypingExpiry:   cfg.TypingExpiry,
		JoinWait:       cfg.JoinWait,
		ConnectTimeout: cfg.APITimeout,
		PendingLimit:   cfg.PendingLimit,
		PresenceTTL:    cfg.PresenceTTL,
	})
	// degraded connect is fine: persistence works without the live channel
	session.Connect(context.Background(), "service@marketplace", models.RoleAdmin)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventsExchange)
	log.Printf("events publisher mode=%s", rabbitmq.PublisherMode(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.EventsRoutingKey, "marketplace-service", cfg.Environment)

	conversationHandler := handlers.NewConversationHandler(conversationStore, session, backend, audit)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(backend)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/start", authMiddleware, conversationHandler.StartConversation)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)
	router.POST("/conversations/:conversation_id/typing", authMiddleware, conversationHandler.Typing)
	router.POST("/conversations/:conversation_id/flag", authMiddleware, conversationHandler.Flag)
	router.GET("/presence/:role/:identity", authMiddleware, conversationHandler.GetPresence)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	session.Disconnect()
	if err := requestQueue.Shutdown(shutdownCtx); err != nil {
		log.Printf("queue shutdown: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("publisher close: %v", err)
	}
}

func buildStore(cfg config.Config) (store.ConversationStore, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		return store.Connect(cfg.DBDSN)
	default:
		log.Printf("using in-memory storage backend (ttl=%s)", cfg.MemoryStoreTTL)
		return store.NewMemoryStore(cfg.MemoryStoreTTL), nil
	}
}

func buildTransport(cfg config.Config) transport.Transport {
	switch cfg.TransportKind {
	case config.TransportAMQP:
		return transport.NewAMQPTransport(cfg.AMQPURL, cfg.RealtimeExchange)
	case config.TransportNone:
		return transport.NewNoop()
	default:
		return transport.NewWSTransport(cfg.SocketServerURL)
	}
}
