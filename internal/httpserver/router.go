package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"amora_backend/internal/config"
	"amora_backend/internal/domain"
	"amora_backend/internal/metrics"
	"amora_backend/internal/security"
	"amora_backend/internal/service"
	"amora_backend/internal/store/sqlite"
	"amora_backend/internal/ws"
)

// Deps carries the externally constructed pieces the router wires together.
// The gate repository is injected so the store backend (sqlite or redis) is a
// deployment decision, not a routing one.
type Deps struct {
	Cfg       *config.Config
	DB        *sql.DB
	GateRepo  domain.GateRepository
	Hub       *ws.Hub
	TokenSvc  *security.TokenService
	Hasher    *security.PasswordHasher
	Encryptor *security.Encryptor
	Publisher service.EventPublisher
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	userRepo := sqlite.NewUserRepo(d.DB)
	convRepo := sqlite.NewConversationRepo(d.DB)
	msgRepo := sqlite.NewMessageRepo(d.DB)
	partRepo := sqlite.NewParticipantRepo(d.DB)

	// Services
	authSvc := service.NewAuthService(userRepo, d.TokenSvc, d.Hasher)
	userSvc := service.NewUserService(userRepo)
	convSvc := service.NewConversationService(convRepo, partRepo, userRepo, d.GateRepo)
	gateSvc := service.NewGateService(
		d.GateRepo, convRepo, partRepo,
		d.Hub, d.Publisher, d.Metrics, d.Logger,
		d.Cfg.Level2Threshold, d.Cfg.Level3Threshold,
	)
	msgSvc := service.NewMessageService(
		convRepo, partRepo, msgRepo, userRepo,
		gateSvc, d.Encryptor, d.Logger,
		d.Cfg.MaxMessagesPerConversation,
	)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"Amora Application API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.TokenSvc, userRepo))

			r.Post("/auth/logout", handleLogout(authSvc))
			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
			})

			// Conversations, messages, and the consent gate
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(convSvc))
				r.Get("/", handleListConversations(convSvc))
				r.Get("/{conversationID}", handleGetConversation(convSvc))
				r.Post("/{conversationID}/read", handleMarkConversationRead(convSvc))
				r.Get("/{conversationID}/messages", handleListMessages(msgSvc))
				r.Post("/{conversationID}/messages", handleCreateMessage(msgSvc))
				r.Get("/{conversationID}/gate", handleGateStatus(gateSvc))
				r.Post("/{conversationID}/gate/consent", handleGateConsent(gateSvc))
				r.Post("/{conversationID}/gate/profile-complete", handleGateProfileComplete(gateSvc))
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(d.Hub, d.TokenSvc, userRepo, convRepo, msgSvc, d.Logger, d.Cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain sentinel errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid input"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}
