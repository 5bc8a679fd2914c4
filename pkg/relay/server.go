// Package relay serves an in-process pub/sub hub to remote clients over WebSocket.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api/handlers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/api/middleware"
	authproviders "github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/auth/providers"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/messages"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/memory"
)

const (
	// ParticipantsPerTopic is the subscriber cap the relay puts on every room topic.
	ParticipantsPerTopic = 2
)

// WSServer represents a WebSocket relay server.
type WSServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port int
	TLS  *TLSConfig
	// Hub defaults to a hub capped at ParticipantsPerTopic subscribers per topic.
	Hub *memory.Hub
	// AuthProvider, when set, is required to verify a bearer token before upgrading.
	AuthProvider authproviders.AuthProvider
}

// NewWSServer creates a new WebSocket relay server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: NewRouter(opts),
		},
		tls: opts.TLS,
	}
}

// NewRouter builds the relay routes.
func NewRouter(opts NewWSServerOptions) *mux.Router {
	hub := opts.Hub
	if hub == nil {
		hub = memory.NewHub(memory.NewHubOptions{MaxSubscribers: ParticipantsPerTopic})
	}

	var ws http.Handler = HandleWS(hub)
	if opts.AuthProvider != nil {
		ws = middleware.NewAuthMiddleware(opts.AuthProvider)(ws)
	}

	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handlers.HandleHealthz()).Methods(http.MethodGet)
	return r
}

// Start starts the WSServer
func (s *WSServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("Relay server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("Relay server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Relay server closed")
			return
		}
		log.Error("Relay server error: %v", err)
	}
}

// Stop stops the WSServer. Hijacked WebSocket connections are not tracked by
// the http.Server and close when their clients go away.
func (s *WSServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWS upgrades the request and relays the connection's subscription through hub.
func HandleWS(hub *memory.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		log.Debug("New WebSocket connection from %s", conn.RemoteAddr().String())
		conn.SetReadLimit(messages.MaxMessageSize)
		newSession(conn, hub).serve()
	}
}
