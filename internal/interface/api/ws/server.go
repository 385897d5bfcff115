package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"streamBot/internal/app/events"
	"streamBot/internal/util"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Temas del bus que se retransmiten al overlay, con el tipo que ve el cliente.
var overlayTopics = map[string]string{
	events.TopicChatMessage:    "chat",
	events.TopicPlatformEvent:  "event",
	events.TopicAlert:          "alert",
	events.TopicTTSStatus:      "tts_status",
	events.TopicTTSSpoken:      "tts",
	events.TopicPlatformStatus: "platform_status",
	events.TopicAppError:       "error",
}

type Config struct {
	Addr      string
	Bus       *events.Bus
	Alerts    AlertHistory
	TTS       TTSManager
	TTSStatus TTSStatusReporter
	Commands  CommandAdmin
	Platforms PlatformStatus
	Logger    *zap.Logger
}

func (c *Config) addr() string {
	if strings.TrimSpace(c.Addr) == "" {
		return ":8089"
	}
	return c.Addr
}

// Server expone el websocket del overlay, la API de administración y /metrics.
type Server struct {
	addr     string
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	api *apiHandlers
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewServer(cfg Config) *Server {
	logger := util.OrNop(cfg.Logger)
	return &Server{
		addr: cfg.addr(),
		bus:  cfg.Bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		api:     newAPIHandlers(cfg, logger),
	}
}

// Handler arma el mux completo; Start lo sirve y las pruebas lo usan con httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/overlay", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	s.api.register(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			setCORSHeaders(w)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// Start levanta el HTTP server y se bloquea hasta que el contexto se cancela.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	defer wg.Wait()
	wg.Go(func() { s.Forward(ctx) })
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("ws: shutdown error", zap.Error(err))
		}
		s.closeClients()
	})

	s.logger.Info("ws: listening", zap.String("addr", s.addr))
	err := srv.ListenAndServe()
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Forward retransmite los temas del bus a los clientes hasta que ctx termina.
func (s *Server) Forward(ctx context.Context) {
	if s.bus == nil {
		return
	}
	var wg conc.WaitGroup
	for topic, kind := range overlayTopics {
		ch, unsubscribe := s.bus.Subscribe(topic)
		wg.Go(func() {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.Broadcast(kind, payload)
				}
			}
		})
	}
	wg.Wait()
}

// Broadcast envía el sobre a cada cliente y descarta los que fallan al escribir.
func (s *Server) Broadcast(kind string, payload any) {
	data, err := json.Marshal(envelope{Type: kind, Data: payload})
	if err != nil {
		s.logger.Warn("ws: marshal failed", zap.String("type", kind), zap.Error(err))
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(json.RawMessage(data)); err != nil {
			s.logger.Debug("ws: removing client due to write error", zap.Error(err))
			s.removeClient(c)
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws: upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("ws: client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", count))
	go s.readLoop(ctx, client)
}

// readLoop solo drena el socket para detectar el cierre; el overlay no envía comandos.
func (s *Server) readLoop(ctx context.Context, client *wsClient) {
	defer s.removeClient(client)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("ws: read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	c.conn.Close()
	s.logger.Info("ws: client disconnected", zap.Int("clients", count))
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.conn.Close()
	}
}
