// Package dashboard serves the on-site status page on the access point
// network: a JSON status endpoint, a QR code students scan to join the AP,
// and a WebSocket that streams gateway events.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"

	"smart-roll-call/internal/connwatch"
	"smart-roll-call/internal/core"
	"smart-roll-call/internal/scheduler"
)

// JoinInfo is what the join QR code encodes.
type JoinInfo struct {
	SSID     string
	Password string // empty for an open AP
	Hidden   bool
}

// Options wires the dashboard to the rest of the gateway. Any func may be
// nil.
type Options struct {
	Port           string
	AllowedOrigins []string

	Join    JoinInfo
	State   *core.State
	Bus     *core.EventBus
	Links   func() []connwatch.LinkStatus
	Jobs    func() []scheduler.Entry
	Clients func() []string
	Now     func() time.Time

	Logger *slog.Logger
}

// Status is the body of GET /api/status and the first WebSocket message.
type Status struct {
	State     core.State             `json:"state"`
	Links     []connwatch.LinkStatus `json:"links"`
	Jobs      []scheduler.Entry      `json:"jobs"`
	Clients   []string               `json:"clients"`
	LocalTime string                 `json:"localTime"`
	Viewers   int                    `json:"viewers"`
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	opts       Options
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewServer creates a new dashboard server. Nothing listens until
// ListenAndServe.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		Hub:    NewHub(opts.Logger),
		opts:   opts,
		logger: opts.Logger,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.opts.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.opts.AllowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			s.logger.Warn("websocket connection blocked", "origin", origin)
			return false
		},
	}

	s.httpServer = &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if len(opts.AllowedOrigins) == 0 {
		s.logger.Warn("websocket origin check disabled; set dashboard.allowed_origins")
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/join-qr.png", s.handleJoinQR)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run starts the hub and relays bus events to WebSocket clients until ctx
// is cancelled. It blocks.
func (s *Server) Run(ctx context.Context) {
	go s.Hub.Run(ctx)
	if s.opts.Bus == nil {
		<-ctx.Done()
		return
	}

	sub := s.opts.Bus.Subscribe(core.AllEvents...)
	defer s.opts.Bus.Unsubscribe(sub, core.AllEvents...)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			s.Hub.Broadcast(NewMessage(string(ev.Type), ev.Payload))
		}
	}
}

// ListenAndServe serves until Shutdown. http.ErrServerClosed is not an
// error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("dashboard listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Snapshot builds the current status.
func (s *Server) Snapshot() Status {
	st := Status{
		LocalTime: s.opts.Now().Format(time.RFC3339),
		Viewers:   s.Hub.Clients(),
	}
	if s.opts.State != nil {
		st.State = s.opts.State.Clone()
	}
	if s.opts.Links != nil {
		st.Links = s.opts.Links()
	}
	if s.opts.Jobs != nil {
		st.Jobs = s.opts.Jobs()
	}
	if s.opts.Clients != nil {
		st.Clients = s.opts.Clients()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
}

func (s *Server) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(WiFiJoinString(s.opts.Join), qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("render join qr", "error", err)
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	if !s.Hub.Register(conn) {
		conn.Close()
		return
	}
	defer s.Hub.Unregister(conn)

	s.Hub.Send(conn, NewMessage("status", s.Snapshot()))

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return
		}
		switch cmd.Type {
		case "get_status":
			s.Hub.Send(conn, NewMessage("status", s.Snapshot()))
		default:
			s.Hub.Send(conn, NewMessage("error", map[string]string{"message": "unknown command " + cmd.Type}))
		}
	}
}

// WiFiJoinString renders the de-facto WIFI: URI understood by phone
// cameras.
func WiFiJoinString(j JoinInfo) string {
	auth := "WPA"
	if j.Password == "" {
		auth = "nopass"
	}
	var b strings.Builder
	b.WriteString("WIFI:T:")
	b.WriteString(auth)
	b.WriteString(";S:")
	b.WriteString(escapeWiFi(j.SSID))
	b.WriteString(";")
	if j.Password != "" {
		b.WriteString("P:")
		b.WriteString(escapeWiFi(j.Password))
		b.WriteString(";")
	}
	if j.Hidden {
		b.WriteString("H:true;")
	}
	b.WriteString(";")
	return b.String()
}

var wifiEscaper = strings.NewReplacer(
	`\`, `\\`,
	`;`, `\;`,
	`,`, `\,`,
	`:`, `\:`,
	`"`, `\"`,
)

func escapeWiFi(s string) string {
	return wifiEscaper.Replace(s)
}
