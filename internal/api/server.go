// Package api provides the HTTP and WebSocket server exposing the backtest
// engine's strategy lifecycle, data-read, and control endpoints over a
// running Strategy (§6).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/internal/factory"
	"github.com/atlas-desktop/backtest-engine/internal/strategy"
	"github.com/atlas-desktop/backtest-engine/internal/workers"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server, grounded on the teacher's
// mux+cors+gorilla/websocket server in this same file's prior revision.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clients    map[string]*Client
	strategies map[string]*strategy.Strategy
	broadcast  *workers.Pool
}

// Client is a connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Subs map[string]bool
}

// Message is the WebSocket envelope for both requests and pushed events.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates a new API server. Strategies are registered after
// construction via RegisterStrategy.
func NewServer(logger *zap.Logger, config *types.ServerConfig) *Server {
	broadcastPool := workers.NewPool(logger.Named("broadcast"), workers.DefaultPoolConfig("ws-broadcast"))
	broadcastPool.Start()

	s := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		clients:    make(map[string]*Client),
		strategies: make(map[string]*strategy.Strategy),
		broadcast:  broadcastPool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// RegisterStrategy makes st reachable under its own ID and subscribes the
// server's broadcast hub to its external event bus.
func (s *Server) RegisterStrategy(st *strategy.Strategy) {
	s.mu.Lock()
	s.strategies[st.ID] = st
	s.mu.Unlock()
	ActiveStrategies.Inc()

	if bus := st.Bus(); bus != nil {
		bus.SubscribeAll(func(e events.Event) error {
			EventsBroadcast.WithLabelValues(string(e.Kind)).Inc()
			s.broadcastToSubscribers(st.ID, &Message{
				ID:        uuid.New().String(),
				Type:      "event",
				Method:    string(e.Kind),
				Payload:   e,
				Timestamp: time.Now().UnixMilli(),
			})
			return nil
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleCreateStrategy).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies/{id}", s.handleGetStrategy).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies/{id}/play", s.handlePlay).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies/{id}/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies/{id}/step", s.handleStep).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies/{id}/reset", s.handleReset).Methods("POST")
	s.router.HandleFunc("/api/v1/strategies/{id}/positions", s.handleGetPositions).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies/{id}/orders", s.handleGetOrders).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies/{id}/transactions", s.handleGetTransactions).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies/{id}/performance", s.handleGetPerformance).Methods("GET")
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()
	if err := s.broadcast.Stop(); err != nil {
		s.logger.Warn("broadcast pool did not stop cleanly", zap.Error(err))
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*strategy.Strategy, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	st, ok := s.strategies[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "strategy not found", http.StatusNotFound)
		return nil, false
	}
	return st, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleCreateStrategy decodes a graph definition, assembles it into a
// running strategy via the node factory, brings every node to Ready, and
// registers it for the lifecycle/data endpoints and the WebSocket hub.
func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var def types.GraphDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid graph definition: "+err.Error(), http.StatusBadRequest)
		return
	}

	bus := events.NewBus(s.logger, events.BusConfig{})
	st, sink, err := factory.Build(def, factory.Options{Logger: s.logger, Bus: bus})
	if err != nil {
		s.writeStrategyError(w, err)
		return
	}
	if err := st.InitNodes(); err != nil {
		s.writeStrategyError(w, err)
		return
	}
	go sink.Run()
	s.RegisterStrategy(st)

	json.NewEncoder(w).Encode(map[string]string{"id": st.ID, "status": "ready"})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    st.ID,
		"state": st.State(),
		"index": st.Watch().Get(),
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := st.Play(); err != nil {
		s.writeStrategyError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "playing"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := st.Pause(); err != nil {
		s.writeStrategyError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "paused"})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := st.PlayOneKline(); err != nil {
		s.writeStrategyError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "stepped", "index": st.Watch().Get()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st.Reset()
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"open":   st.VTS().CurrentPositions(),
		"closed": st.VTS().HistoryPositions(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"orders": st.VTS().Orders()})
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"transactions": st.VTS().Transactions()})
}

func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(st.PerformanceReport())
}

func (s *Server) writeStrategyError(w http.ResponseWriter, err error) {
	var se *types.StrategyError
	if e, ok := err.(*types.StrategyError); ok {
		se = e
		StrategyErrors.WithLabelValues(string(se.Code)).Inc()
		http.Error(w, se.Message("en"), se.HTTPStatus())
		return
	}
	StrategyErrors.WithLabelValues("unknown").Inc()
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Subs: make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	WebSocketClients.Inc()

	s.logger.Info("websocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		WebSocketClients.Dec()
		client.Conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}
		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		s.handleMessage(client, &msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{ID: msg.ID, Type: "response", Method: msg.Method, Timestamp: time.Now().UnixMilli()}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}
	case "subscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		client.Subs[channel] = true
		response.Payload = map[string]string{"subscribed": channel}
	case "unsubscribe":
		payload, _ := msg.Payload.(map[string]interface{})
		channel, _ := payload["channel"].(string)
		delete(client.Subs, channel)
		response.Payload = map[string]string{"unsubscribed": channel}
	default:
		response.Error = "unknown method"
	}

	responseBytes, _ := json.Marshal(response)
	client.Send <- responseBytes
}

// broadcastToSubscribers sends msg to every client subscribed to channel
// (a strategy ID), fanning the per-client sends out across the bounded
// broadcast pool so one slow client can't stall the others.
func (s *Server) broadcastToSubscribers(channel string, msg *Message) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		if client.Subs[channel] {
			targets = append(targets, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range targets {
		client := client
		if err := s.broadcast.SubmitFunc(func() error {
			select {
			case client.Send <- msgBytes:
			default:
			}
			return nil
		}); err != nil {
			s.logger.Warn("broadcast pool rejected send", zap.Error(err))
		}
	}
}
