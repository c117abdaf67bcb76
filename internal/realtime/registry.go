package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haulmark/backoffice/internal/auth"
	"github.com/haulmark/backoffice/internal/rbac"
)

const (
	roomAdmins    = "admins"
	roomBroadcast = "broadcast"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// ErrClosed is returned by ServeWS after Shutdown.
var ErrClosed = errors.New("realtime: registry closed")

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Resolve(ctx context.Context, raw string) (*rbac.Identity, error)
}

// Config wires a Registry.
type Config struct {
	Authenticator  Authenticator
	Logger         *slog.Logger
	AllowedOrigins []string
}

// Session is one live connection.
type Session struct {
	ID       string
	UserID   int64
	Rooms    []string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closeOne sync.Once
}

func (s *Session) close() {
	s.closeOne.Do(func() { close(s.done) })
}

// Registry tracks live sessions and the rooms they joined.
type Registry struct {
	auth     Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

// NewRegistry constructs a Registry. Call Start before serving connections.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		auth:     cfg.Authenticator,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return r
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Start marks the registry ready and closes it when ctx ends.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_ = r.Shutdown(shutdownCtx)
	}()
}

// Shutdown disconnects every session and waits for their goroutines.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS authenticates the request and upgrades it to a session.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	ready := r.started && !r.closed
	r.mu.RUnlock()
	if !ready {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	token := bearerToken(req)
	if token == "" || r.auth == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	identity, err := r.auth.Resolve(req.Context(), token)
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		r.logger.Error("realtime resolve identity", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err != nil || identity == nil || !identity.IsActive {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("realtime upgrade failed", slog.Int64("user_id", identity.ID), slog.Any("error", err))
		return
	}
	session := &Session{
		ID:     uuid.NewString(),
		UserID: identity.ID,
		Rooms:  roomsFor(identity),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	if !r.register(session) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	r.logger.Info("realtime connected", slog.String("session_id", session.ID), slog.Int64("user_id", identity.ID))

	go r.writePump(session)
	go r.readPump(session)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func roomsFor(identity *rbac.Identity) []string {
	rooms := []string{userRoom(identity.ID)}
	if role := rbac.CanonicalRole(identity.RoleName()); role != "" {
		rooms = append(rooms, roleRoom(role))
	}
	if rbac.IsAdmin(identity) {
		rooms = append(rooms, roomAdmins)
	}
	return append(rooms, roomBroadcast)
}

func userRoom(id int64) string { return fmt.Sprintf("user:%d", id) }

func roleRoom(name string) string { return "role:" + rbac.CanonicalRole(name) }

func (r *Registry) register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[s.ID] = s
	for _, room := range s.Rooms {
		members, ok := r.rooms[room]
		if !ok {
			members = make(map[string]*Session)
			r.rooms[room] = members
		}
		members[s.ID] = s
	}
	r.wg.Add(2)
	return true
}

func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	delete(r.sessions, s.ID)
	for _, room := range s.Rooms {
		members := r.rooms[room]
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) readPump(s *Session) {
	defer r.wg.Done()
	defer s.close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Debug("realtime read", slog.String("session_id", s.ID), slog.Any("error", err))
			}
			return
		}
	}
}

func (r *Registry) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		r.unregister(s)
		_ = s.conn.Close()
		r.logger.Info("realtime disconnected", slog.String("session_id", s.ID), slog.Int64("user_id", s.UserID))
		r.wg.Done()
	}()
	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// push queues payload on every session in room and returns how many accepted it.
// A session whose buffer is full is disconnected.
func (r *Registry) push(room string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("realtime encode", slog.String("room", room), slog.Any("error", err))
		return 0
	}
	r.mu.RLock()
	members := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.send <- payload:
			delivered++
		default:
			r.logger.Warn("realtime slow consumer dropped", slog.String("session_id", s.ID), slog.Int64("user_id", s.UserID))
			s.close()
		}
	}
	return delivered
}

// PushToUser sends event to every session of userID.
func (r *Registry) PushToUser(userID int64, event any) int {
	return r.push(userRoom(userID), event)
}

// PushToRole sends event to every session whose role is name.
func (r *Registry) PushToRole(name string, event any) int {
	return r.push(roleRoom(name), event)
}

// PushToAdmins sends event to every administrator session.
func (r *Registry) PushToAdmins(event any) int {
	return r.push(roomAdmins, event)
}

// PushToAll sends event to every session.
func (r *Registry) PushToAll(event any) int {
	return r.push(roomBroadcast, event)
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userRoom(userID)]) > 0
}

// Online counts live sessions.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
