package wsserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"qerplunk/ride-share/presence"
	"qerplunk/ride-share/types"
	"qerplunk/ride-share/ws_server/rate_limiter"
	"time"

	"github.com/gorilla/websocket"
)

// Server accepts location sharing connections and feeds their events to the Broadcaster.
type Server struct {
	upgrader    websocket.Upgrader
	broadcaster *presence.Broadcaster
	maxMessages int
	window      time.Duration
}

// Creates a WebSocket server.
// maxMessages per window is the inbound event budget of a single connection.
func NewServer(broadcaster *presence.Broadcaster, maxMessages int, window time.Duration) *Server {
	return &Server{
		// Returns true as a middleware is already used to check for the origin
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		broadcaster: broadcaster,
		maxMessages: maxMessages,
		window:      window,
	}
}

// The basic HTTP connection, not WebSocket yet
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading connection", slog.String("error", err.Error()))
		return
	}

	go s.handleConnection(conn)
}

// Handles a WebSocket connection instance
func (s *Server) handleConnection(conn *websocket.Conn) {
	c := newClient(conn)
	go c.writePump()

	session := s.broadcaster.Open(c)
	logger := slog.With(slog.String("participant", session.ID()))
	logger.Debug("connection opened", slog.String("remote", conn.RemoteAddr().String()))

	// Leave the room before the send queue goes away, so peers never see a ghost
	defer func() {
		s.broadcaster.Close(session)
		close(c.send)
		logger.Debug("connection closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimiter := ratelimiter.New(s.maxMessages, s.window)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			// Abrupt disconnects are handled exactly like a normal close
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Info("error reading message", slog.String("error", err.Error()))
			}
			return
		}

		msg, ok := decodeMessage(messageType, message, logger)

		// Joins are always answered so clients never wait on a dropped join.
		// Everything else, invalid messages included, counts towards the rate limiter
		joining := ok && msg.Type == types.EventJoinRoom
		if !joining && !rateLimiter.AllowMessage() {
			logger.Debug("rate limit exceeded, dropping event")
			continue
		}

		if !ok {
			continue
		}

		s.dispatch(session, msg, logger)
	}
}

// Parses a text frame into a Message, reporting false for anything unusable
func decodeMessage(messageType int, message []byte, logger *slog.Logger) (types.Message, bool) {
	var msg types.Message

	if messageType != websocket.TextMessage {
		logger.Debug("dropping non-text message", slog.Int("type", messageType))
		return msg, false
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Debug("dropping malformed message", slog.String("error", err.Error()))
		return msg, false
	}
	return msg, true
}

// Checks the type of message the user sent to the server
func (s *Server) dispatch(session *presence.Session, msg types.Message, logger *slog.Logger) {
	switch msg.Type {
	case types.EventJoinRoom:
		s.broadcaster.Join(session, msg.RoomID)

	case types.EventLocationUpdate:
		if msg.Lat == nil || msg.Lng == nil || !types.ValidCoordinates(*msg.Lat, *msg.Lng) {
			logger.Debug("dropping location update with invalid coordinates")
			return
		}
		s.broadcaster.UpdateLocation(session, *msg.Lat, *msg.Lng)

	default:
		logger.Debug("dropping unknown message type", slog.String("type", msg.Type))
	}
}
