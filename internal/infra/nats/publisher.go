package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "quiz",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// GamePublisher announces finished games on <prefix>.games.ended.<gameId>.
type GamePublisher struct {
	conn   msgPublisher
	nc     *nats.Conn
	prefix string
}

func Connect(cfg Config) (*GamePublisher, error) {
	opts := []nats.Option{
		nats.Name("quiz-live-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := newPublisher(nc, cfg.SubjectPrefix)
	p.nc = nc
	return p, nil
}

func newPublisher(conn msgPublisher, prefix string) *GamePublisher {
	if prefix == "" {
		prefix = "quiz"
	}
	return &GamePublisher{conn: conn, prefix: prefix}
}

func (p *GamePublisher) Subject(gameID string) string {
	return fmt.Sprintf("%s.games.ended.%s", p.prefix, gameID)
}

type envelope struct {
	EventID   string             `json:"eventId"`
	EventType string             `json:"eventType"`
	Timestamp time.Time          `json:"timestamp"`
	Payload   domain.GameSummary `json:"payload"`
}

func (p *GamePublisher) RecordGame(ctx context.Context, summary domain.GameSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	eventID := uuid.NewString()
	data, err := json.Marshal(envelope{
		EventID:   eventID,
		EventType: "game.ended",
		Timestamp: time.Now().UTC(),
		Payload:   summary,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(summary.GameID)
	err = p.conn.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{"game.ended"},
			"Event-ID":   []string{eventID},
			"Game-Pin":   []string{summary.Pin},
		},
	})
	if err != nil {
		return fmt.Errorf("publish game ended: %w", err)
	}
	log.Debug().Str("subject", subject).Str("event_id", eventID).Msg("published game summary")
	return nil
}

func (p *GamePublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
