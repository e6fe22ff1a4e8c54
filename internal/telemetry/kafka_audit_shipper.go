package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	cfg "github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAuditShipper publishes audit events asynchronously. A disabled shipper
// accepts and drops everything.
type KafkaAuditShipper struct {
	cfg      cfg.KafkaAuditConfig
	w        messageWriter
	ch       chan any
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewKafkaAuditShipper(cfgIn cfg.KafkaAuditConfig) (*KafkaAuditShipper, error) {
	c := cfgIn
	if !c.Enabled {
		return &KafkaAuditShipper{cfg: c}, nil
	}
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 2 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}

	tr := &kafka.Transport{DialTimeout: c.DialTimeout}
	if c.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              tr,
		AllowAutoTopicCreation: false,
		BatchTimeout:           c.FlushEvery,
		BatchSize:              c.BatchSize,
		WriteTimeout:           c.WriteTimeout,
	}
	return newShipper(c, w), nil
}

func newShipper(c cfg.KafkaAuditConfig, w messageWriter) *KafkaAuditShipper {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	c.Enabled = true
	return &KafkaAuditShipper{
		cfg:  c,
		w:    w,
		ch:   make(chan any, c.QueueCapacity),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *KafkaAuditShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

// Stop drains queued events until ctx expires, then closes the writer.
func (s *KafkaAuditShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		logger.Warnf("kafka audit shipper: stop deadline reached with %d events queued", len(s.ch))
	}
	if err := s.w.Close(); err != nil {
		logger.Warnf("kafka audit shipper: close writer: %v", err)
	}
}

// Publish enqueues ev, dropping it when the queue is full.
func (s *KafkaAuditShipper) Publish(ev any) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// drop on backpressure
	}
}

func (s *KafkaAuditShipper) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.ch:
			s.dispatchLogged(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					s.dispatchLogged(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaAuditShipper) dispatchLogged(ev any) {
	if err := s.dispatch(ev); err != nil {
		logger.Warnf("kafka audit shipper: dispatch: %v", err)
	}
}

func (s *KafkaAuditShipper) dispatch(ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var key []byte
	switch e := ev.(type) {
	case GateAuditEvent:
		key = []byte(e.Context)
	case RequestAuditEvent:
		key = []byte(e.Path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout+time.Second)
	defer cancel()
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now().UTC(),
	})
}
