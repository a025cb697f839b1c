// Package status serves the app state over HTTP and a websocket feed,
// and lets the bot bike be driven from a browser or curl.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/app"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/goutil"
)

const (
	feedBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Source is the snapshot feed, normally App.Snapshots().
type Source interface {
	Subscribe(buffer int) (<-chan app.Snapshot, func())
	Last() (app.Snapshot, bool)
}

// BotController changes the values of the bot bike.
type BotController interface {
	Set(u bikes.BotUpdate)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Server is the status HTTP server.
type Server struct {
	logger *log.Logger
	source Source
	bot    BotController

	server   *http.Server
	listener net.Listener
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server for source. bot may be nil when another
// bike is selected.
func NewServer(logger *log.Logger, source Source, bot BotController) *Server {
	if logger == nil {
		panic("StatusServer: logger cannot be nil")
	}
	if source == nil {
		panic("StatusServer: source cannot be nil")
	}
	return &Server{
		logger: logger,
		source: source,
		bot:    bot,
		done:   make(chan struct{}),
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("POST /api/bot", s.handleSetBot)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("StatusServer: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	goutil.SafeGo(s.logger, "status-http", func() {
		defer s.wg.Done()
		s.logger.Printf("StatusServer: serving on http://%s", ln.Addr())
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("StatusServer: serve: %v", err)
		}
	})
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes every websocket and stops the HTTP server.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.done) })
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Printf("StatusServer: shutdown: %v", err)
		}
	}
	s.wg.Wait()
}

func (s *Server) snapshot() app.Snapshot {
	snap, ok := s.source.Last()
	if !ok {
		return app.Snapshot{Phase: app.PhaseIdle.String()}
	}
	return snap
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Printf("StatusServer: encode state: %v", err)
	}
}

func (s *Server) handleSetBot(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		http.Error(w, "bot bike not selected", http.StatusNotFound)
		return
	}

	var u bikes.BotUpdate
	q := r.URL.Query()
	for name, dst := range map[string]**float64{"power": &u.Power, "cadence": &u.Cadence, "speed": &u.Speed} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s %q", name, raw), http.StatusBadRequest)
			return
		}
		*dst = &v
	}
	if u.Power == nil && u.Cadence == nil && u.Speed == nil {
		http.Error(w, "expected power, cadence or speed", http.StatusBadRequest)
		return
	}

	s.bot.Set(u)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("StatusServer: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	feed, cancel := s.source.Subscribe(feedBuffer)
	defer cancel()

	// the client never sends anything; reading only notices it going away
	closed := make(chan struct{})
	goutil.SafeGo(s.logger, "status-ws-read", func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for {
		select {
		case snap := <-feed:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
