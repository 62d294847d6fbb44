// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jpillora/requestlog"
	"github.com/rs/cors"
)

// ServerConfig configures a signaling Server.
type ServerConfig struct {
	// AllowedOrigins lists browser origins permitted to create rooms and
	// open websockets. Empty allows every origin.
	AllowedOrigins []string

	// RequestLog enables per-request access logging.
	RequestLog bool

	Logger *slog.Logger
}

// Server hosts signaling rooms.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	roomsMu sync.RWMutex
	rooms   map[string]*Room
}

// NewServer creates a signaling server with no rooms.
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{
		config: config,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
	server.upgrader = websocket.Upgrader{CheckOrigin: server.checkOrigin}
	return server
}

// Handler returns the HTTP handler serving POST /rooms and GET /ws.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost)
	router.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	var handler http.Handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)

	if s.config.RequestLog {
		handler = requestlog.Wrap(handler)
	}
	return handler
}

// Room returns the room with the given id.
func (s *Server) Room(id string) (*Room, bool) {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

// CreateRoomHandler creates a room and writes its id as the response body.
func (s *Server) CreateRoomHandler(writer http.ResponseWriter, request *http.Request) {
	id := uuid.NewString()
	room := NewRoom(id, s.logger)

	s.roomsMu.Lock()
	s.rooms[id] = room
	s.roomsMu.Unlock()

	s.logger.Info("room created", "room", id)

	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := writer.Write([]byte(id)); err != nil {
		s.logger.Warn("writing room id failed", "room", id, "error", err)
	}
}

// WebSocketHandler upgrades a join request and hands the connection to
// the room for the duration of the connection.
func (s *Server) WebSocketHandler(writer http.ResponseWriter, request *http.Request) {
	role := Role(request.URL.Query().Get("role"))
	roomID := request.URL.Query().Get("room-id")
	if (role != RoleClient && role != RoleServer) || roomID == "" {
		http.Error(writer, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	room, ok := s.Room(roomID)
	if !ok {
		http.Error(writer, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s.logger.Info("joining room", "room", room.ID, "role", string(role))

	if role == RoleClient {
		room.HandleClientConn(conn)
	} else {
		room.HandleServerConn(conn)
	}
}

func (s *Server) checkOrigin(request *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := request.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
