// Package events publishes hub lifecycle events (presence transitions, group
// call start and end) to NATS so other services can react to them.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectUserOnline       = "gochat.presence.online"
	SubjectUserOffline      = "gochat.presence.offline"
	SubjectGroupCallStarted = "gochat.groupcall.started"
	SubjectGroupCallEnded   = "gochat.groupcall.ended"
	SubjectCallLogged       = "gochat.call.logged"
)

// Publisher forwards hub events to other services.
type Publisher interface {
	Publish(subject string, payload any) error
	Close()
}

// Noop discards all events. It is used when no NATS url is configured.
type Noop struct{}

func (Noop) Publish(string, any) error {
	return nil
}

func (Noop) Close() {}

// NatsPublisher publishes events as JSON on a NATS connection.
type NatsPublisher struct {
	log  *zap.Logger
	conn *nats.Conn
}

// NewNatsPublisher connects to the NATS server at url. Reconnects are retried
// forever in the background once the initial connection succeeded.
func NewNatsPublisher(log *zap.Logger, url string) (*NatsPublisher, error) {
	log = log.With(zap.String("component", "events"))
	conn, err := nats.Connect(url,
		nats.Name("gochat-hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS connection lost",
				zap.Error(err),
			)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS connection re-established",
				zap.String("url", c.ConnectedUrlRedacted()),
			)
		}),
	)
	if err != nil {
		return nil, err
	}

	log.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrlRedacted()),
		zap.String("server", conn.ConnectedServerId()),
	)
	return &NatsPublisher{
		log:  log,
		conn: conn,
	}, nil
}

func (p *NatsPublisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("Could not drain NATS connection",
			zap.Error(err),
		)
		p.conn.Close()
	}
}
