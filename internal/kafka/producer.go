package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w         *kafka.Writer
	inbox     chan kafka.Message
	closeCh   chan struct{}
	closeOnce sync.Once
	onError   func(err error)
}

// NewProducer builds a buffered async producer for one topic. onError
// fires for every failed write; the realtime bus uses it as its
// degraded-mode signal, so it must not be nil for that caller.
func NewProducer(brokers []string, topic string, buf int, onError func(error)) *Producer {
	if onError == nil {
		onError = func(error) {}
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		onError: onError,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		write := func(m kafka.Message) {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.onError(err)
			}
		}
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					write(m)
				}
				_ = p.w.Close()
				close(p.closeCh)
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					close(p.closeCh)
					return
				}
				write(m)
			}
		}
	}()
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops intake; the loop flushes what is queued and exits.
// Safe to call alongside context cancellation.
func (p *Producer) Close() { p.closeOnce.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the flush loop is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
