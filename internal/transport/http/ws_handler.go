package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
)

// Lobby commands handled by the transport itself; everything else goes to the session.
const (
	cmdCreateLobby = "createLobby"
	cmdJoinLobby   = "joinLobby"
	cmdLeaveLobby  = "leaveLobby"
)

type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, checkOrigin func(r *http.Request) bool) *WSHandler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// commandPayload is the union of every client command's fields.
type commandPayload struct {
	GameID     string                `json:"gameId"`
	Pin        string                `json:"pin"`
	Name       string                `json:"name"`
	PlayerName string                `json:"playerName"`
	Mode       string                `json:"mode"`
	Count      int                   `json:"count"`
	Kind       countdown.Kind        `json:"kind"`
	Choice     int                   `json:"choice"`
	Text       string                `json:"text"`
	Answer     domain.Answer         `json:"answer"`
	Value      *float64              `json:"value"`
	ByTimeout  bool                  `json:"byTimeout"`
	Grades     []domain.GradedAnswer `json:"grades"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// client is one websocket connection. It belongs to at most one session at a time.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	session *app.Session
}

func (c *client) write(msg app.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) fail(err error) {
	_ = c.write(app.Message{Type: app.MsgError, Payload: errorPayload{Message: err.Error()}})
}

func (c *client) current() *app.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *client) bind(s *app.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *client) unbind(s *app.Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

// pump writes session events until the session closes the outbox.
func (c *client) pump(s *app.Session, out <-chan app.Message) {
	defer c.unbind(s)
	for msg := range out {
		if err := c.write(msg); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("ws write failed")
			// The session detaches slow or dead clients itself; keep draining.
			for range out {
			}
			return
		}
	}
}

// ServeWS upgrades the request and routes client commands to the game service.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{id: uuid.NewString(), conn: conn}
	logger := log.With().Str("conn_id", c.id).Logger()
	logger.Debug().Msg("client connected")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	defer func() {
		if s := c.current(); s != nil {
			s.Leave(c.id, false)
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.fail(errors.New("invalid json"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("ws read failed")
			}
			return
		}
		var payload commandPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.fail(errors.New("invalid payload"))
				continue
			}
		}
		h.handle(r.Context(), c, inbound.Type, payload)
	}
}

func (h *WSHandler) handle(ctx context.Context, c *client, typ string, p commandPayload) {
	switch typ {
	case cmdCreateLobby:
		if c.current() != nil {
			c.fail(domain.ErrAlreadyInSession)
			return
		}
		out := make(chan app.Message, h.service.Settings().OutboxSize)
		s, err := h.service.CreateLobby(ctx, p.GameID, domain.ParseMode(p.Mode), c.id, out)
		if err != nil {
			c.fail(err)
			return
		}
		c.bind(s)
		go c.pump(s, out)
	case cmdJoinLobby:
		if c.current() != nil {
			c.fail(domain.ErrAlreadyInSession)
			return
		}
		out := make(chan app.Message, h.service.Settings().OutboxSize)
		s, err := h.service.Join(ctx, p.Pin, c.id, p.Name, out)
		if err != nil {
			c.fail(err)
			return
		}
		c.bind(s)
		go c.pump(s, out)
	case cmdLeaveLobby:
		if s := c.current(); s != nil {
			s.Leave(c.id, true)
		}
	default:
		s := c.current()
		if s == nil {
			c.fail(domain.ErrSessionNotFound)
			return
		}
		cmd, ok := toCommand(typ, p)
		if !ok {
			c.fail(errors.New("unsupported message type"))
			return
		}
		if err := s.Dispatch(c.id, cmd); err != nil {
			c.fail(err)
		}
	}
}

func toCommand(typ string, p commandPayload) (app.Command, bool) {
	cmd := app.Command{Type: app.CommandType(typ)}
	switch cmd.Type {
	case app.CmdToggleLock, app.CmdStopCountdown, app.CmdResumeCountdown, app.CmdEnablePanicMode,
		app.CmdGameStarted, app.CmdGameEnded, app.CmdNextQuestion, app.CmdGetPlayers, app.CmdGetCurrentState:
	case app.CmdBanPlayer, app.CmdToggleMute:
		cmd.Target = p.PlayerName
		if cmd.Target == "" {
			cmd.Target = p.Name
		}
	case app.CmdStartCountdown:
		cmd.Count = p.Count
		cmd.Kind = p.Kind
		if p.Mode != "" {
			cmd.Mode = domain.ParseMode(p.Mode)
		}
	case app.CmdSelectChoice:
		cmd.Choice = p.Choice
	case app.CmdQRLInput:
		cmd.Text = p.Text
	case app.CmdAnswerSubmitted:
		cmd.Answer = p.Answer
		cmd.ByTimeout = p.ByTimeout
	case app.CmdQREAnswerSubmitted:
		cmd.Answer = p.Answer
		cmd.Answer.Type = domain.QuestionQRE
		if p.Value != nil {
			cmd.Answer.Value = *p.Value
		}
		cmd.ByTimeout = p.ByTimeout
	case app.CmdEvaluationCompleted:
		cmd.Grades = p.Grades
	default:
		return app.Command{}, false
	}
	return cmd, true
}
