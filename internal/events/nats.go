package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubject = "worldhost.lifecycle"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes every event as JSON to <subject>.<type>, e.g.
// worldhost.lifecycle.world.created.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	log     *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, subject string, log *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("worldhost"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s := NewNATSSink(nc, subject, log)
	s.conn = nc
	return s, nil
}

func NewNATSSink(pub Publisher, subject string, log *zap.Logger) *NATSSink {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSSink{pub: pub, subject: subject, log: log}
}

func (s *NATSSink) Subject(ev Event) string {
	return s.subject + "." + ev.Type
}

func (s *NATSSink) Notify(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(ev), data); err != nil {
		s.failed.Add(1)
		s.log.Warn("publish event", zap.String("subject", s.Subject(ev)), zap.Error(err))
		return
	}
	s.published.Add(1)
}

func (s *NATSSink) Stats() (published, failed uint64) {
	return s.published.Load(), s.failed.Load()
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
