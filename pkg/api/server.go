package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api/handlers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api/middleware"
	authproviders "github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/providers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port         int
	AllowOrigin  string
	TLS          *TLSConfig
	AuthProvider authproviders.AuthProvider
	Registry     handlers.Registry
}

// NewRouter builds the registry API routes.
func NewRouter(opts NewAPIServerOptions) *mux.Router {
	allowOrigin := opts.AllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	r := mux.NewRouter()
	r.Use(middleware.NewCORSMiddleware(allowOrigin))
	r.HandleFunc("/healthz", handlers.HandleHealthz()).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(opts.AuthProvider)
	r.Handle("/rooms", auth(handlers.HandleCreateRoom(opts.Registry))).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/rooms/join", auth(handlers.HandleJoinRoom(opts.Registry))).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/rooms/{roomID}", auth(handlers.HandleGetRoom(opts.Registry))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/rooms/{roomID}/status", auth(handlers.HandleUpdateRoomStatus(opts.Registry))).Methods(http.MethodPut, http.MethodOptions)
	r.Handle("/rooms/{roomID}/guest", auth(handlers.HandleReleaseGuest(opts.Registry))).Methods(http.MethodDelete, http.MethodOptions)

	return r
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
