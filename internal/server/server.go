package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/cors"

	"github.com/dukerupert/earmark/internal/auth"
	"github.com/dukerupert/earmark/internal/backup"
	"github.com/dukerupert/earmark/internal/billing"
	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/handler"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/middleware"
	"github.com/dukerupert/earmark/internal/push"
	ws "github.com/dukerupert/earmark/internal/websocket"
)

// Deps are the services the API exposes.
type Deps struct {
	Auth        *auth.Service
	Engine      *entitlement.Engine
	Store       *content.Store
	Library     *library.Service
	Chat        *chat.Service
	Backup      *backup.Manager
	Hub         *ws.Hub
	CORSOrigins []string

	// Billing is nil when Stripe is not configured.
	Billing *billing.Service

	// Push is nil when VAPID keys are not configured.
	Push           *push.Notifier
	VAPIDPublicKey string
}

type Server struct {
	hub            *ws.Hub
	auth           *auth.Service
	authH          *handler.AuthHandler
	subscriptionH  *handler.SubscriptionHandler
	recordingH     *handler.RecordingHandler
	documentH      *handler.DocumentHandler
	chatH          *handler.ChatHandler
	backupH        *handler.BackupHandler
	pushH          *handler.PushHandler
	billingH       *handler.BillingHandler
	rateLimiter    *middleware.RateLimiter
	corsOrigins    []string
	originPatterns []string
	logger         *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	return &Server{
		hub:            d.Hub,
		auth:           d.Auth,
		authH:          handler.NewAuthHandler(d.Auth, logger.With("component", "auth_handler")),
		subscriptionH:  handler.NewSubscriptionHandler(d.Engine, d.Hub, logger.With("component", "subscription_handler")),
		recordingH:     handler.NewRecordingHandler(d.Library, d.Store, d.Chat, logger.With("component", "recording_handler")),
		documentH:      handler.NewDocumentHandler(d.Library, d.Store, d.Chat, logger.With("component", "document_handler")),
		chatH:          handler.NewChatHandler(d.Chat, d.Store, logger.With("component", "chat_handler")),
		backupH:        handler.NewBackupHandler(d.Backup, logger.With("component", "backup_handler")),
		pushH:          handler.NewPushHandler(d.Push, d.VAPIDPublicKey, logger.With("component", "push_handler")),
		billingH:       handler.NewBillingHandler(d.Billing, d.Hub, logger.With("component", "billing_handler")),
		rateLimiter:    middleware.NewRateLimiter(),
		corsOrigins:    d.CORSOrigins,
		originPatterns: originHosts(d.CORSOrigins),
		logger:         logger,
	}
}

// originHosts turns CORS origins into the host patterns the WebSocket
// upgrader matches against.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// ChatHandler returns the chat handler so shutdown can wait for background
// replies.
func (s *Server) ChatHandler() *handler.ChatHandler {
	return s.chatH
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /api/auth/signup", s.rateLimitedHandler(s.authH.SignUp))
	outerMux.HandleFunc("POST /api/auth/signin", s.rateLimitedHandler(s.authH.SignIn))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/billing/webhook", s.billingH.Webhook)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireAuth(s.auth)(protectedMux))

	c := cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return middleware.RequestLogger(s.logger.With("component", "http"))(c(outerMux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signout", s.authH.SignOut)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Subscription
	mux.HandleFunc("GET /api/subscription", s.subscriptionH.Get)
	mux.HandleFunc("GET /api/subscription/check", s.subscriptionH.Check)
	mux.HandleFunc("POST /api/subscription/upgrade", s.subscriptionH.Upgrade)
	mux.HandleFunc("POST /api/subscription/cancel", s.subscriptionH.Cancel)
	mux.HandleFunc("POST /api/subscription/prompted", s.subscriptionH.Prompted)
	mux.HandleFunc("POST /api/subscription/checkout", s.billingH.Checkout)

	// Recordings
	mux.HandleFunc("POST /api/recordings/start", s.recordingH.Start)
	mux.HandleFunc("POST /api/recordings", s.recordingH.Create)
	mux.HandleFunc("GET /api/recordings", s.recordingH.List)
	mux.HandleFunc("GET /api/recordings/{id}", s.recordingH.Get)
	mux.HandleFunc("PATCH /api/recordings/{id}", s.recordingH.Rename)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.recordingH.Delete)
	mux.HandleFunc("POST /api/recordings/{id}/transcribe", s.recordingH.Retranscribe)
	mux.HandleFunc("POST /api/recordings/{id}/summary", s.recordingH.Summarize)
	mux.HandleFunc("GET /api/recordings/{id}/export", s.recordingH.Export)

	// Documents
	mux.HandleFunc("POST /api/documents", s.documentH.Import)
	mux.HandleFunc("GET /api/documents", s.documentH.List)
	mux.HandleFunc("GET /api/documents/{id}", s.documentH.Get)
	mux.HandleFunc("PATCH /api/documents/{id}", s.documentH.Rename)
	mux.HandleFunc("DELETE /api/documents/{id}", s.documentH.Delete)
	mux.HandleFunc("POST /api/documents/{id}/summary", s.documentH.Summarize)
	mux.HandleFunc("GET /api/documents/{id}/export", s.documentH.Export)

	// Chat
	mux.HandleFunc("GET /api/chat/sessions", s.chatH.List)
	mux.HandleFunc("POST /api/chat/sessions", s.chatH.Open)
	mux.HandleFunc("POST /api/chat/general", s.chatH.OpenGeneral)
	mux.HandleFunc("GET /api/chat/sessions/{id}", s.chatH.Get)
	mux.HandleFunc("PATCH /api/chat/sessions/{id}", s.chatH.Rename)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.chatH.Delete)
	mux.HandleFunc("POST /api/chat/sessions/{id}/messages", s.chatH.Send)

	// Backup
	mux.HandleFunc("GET /api/backup", s.backupH.Status)
	mux.HandleFunc("GET /api/backup/list", s.backupH.List)
	mux.HandleFunc("POST /api/backup/run", s.backupH.Run)
	mux.HandleFunc("POST /api/backup/restore", s.backupH.Restore)

	// Push notifications
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)

	// Change notifications
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.originPatterns, s.logger.With("component", "websocket")))
}
