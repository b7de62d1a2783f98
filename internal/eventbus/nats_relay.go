package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/logger"
)

// NATSRelay republishes every event from a Bus onto a NATS subject tree so
// a second orchestrator replica or an external dashboard can observe the
// notification stream without holding a direct websocket connection
// (SPEC_FULL §3 "optional NATS fan-out"). It never replaces the in-process
// Bus; it only mirrors it.
type NATSRelay struct {
	conn      *nats.Conn
	namespace string
	log       *logger.Logger
}

// NewNATSRelay connects to url and wires itself as a wildcard subscriber
// on bus. A connect failure is returned to the caller, who should treat
// NATS fan-out as optional and continue without it.
func NewNATSRelay(bus Bus, url, clientID, namespace string, log *logger.Logger) (*NATSRelay, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "eventbus-nats-relay"))

	conn, err := nats.Connect(url,
		nats.Name(clientID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	relay := &NATSRelay{conn: conn, namespace: namespace, log: log}
	bus.SubscribeAll(relay.forward)
	return relay, nil
}

func (r *NATSRelay) subject(name string) string {
	if r.namespace != "" {
		return fmt.Sprintf("bismark.%s.events.%s", r.namespace, name)
	}
	return fmt.Sprintf("bismark.events.%s", name)
}

func (r *NATSRelay) forward(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("failed to marshal event for nats relay", zap.String("name", ev.Name), zap.Error(err))
		return
	}
	if err := r.conn.Publish(r.subject(ev.Name), data); err != nil {
		r.log.Warn("failed to publish event to nats", zap.String("name", ev.Name), zap.Error(err))
	}
}

// Close drains and closes the NATS connection.
func (r *NATSRelay) Close() {
	r.conn.Drain()
}
