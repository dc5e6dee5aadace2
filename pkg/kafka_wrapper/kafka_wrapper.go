// Package kafkawrapper publishes messages to Kafka and runs a pool of
// workers consuming a topic in batches.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
	Raw       kafka.Message
}

type ProducerConfig struct {
	Brokers      []string      `yaml:"brokers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchBytes   int64         `yaml:"batch_bytes"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// Async writes never report delivery errors to the caller.
	Async bool `yaml:"async"`
}

// Publisher is the publishing side used by the engine adapters.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type Producer struct {
	w *kafka.Writer
}

var _ Publisher = (*Producer)(nil)

var (
	errProducerNotInitialized = errors.New("producer not initialized")
	errConsumerNotInitialized = errors.New("consumer not initialized")
)

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	wr := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// same key, same partition: per-symbol order survives the topic
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  cfg.Async,
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errProducerNotInitialized
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: mapToHeaders(headers),
		Time:    time.Now(),
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers     []string      `yaml:"brokers"`
	GroupID     string        `yaml:"group_id"`
	Topic       string        `yaml:"topic"`
	WorkerCount int           `yaml:"worker_count"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	DLQTopic    string        `yaml:"dlq_topic"`
	// max messages per batch
	BatchSize int `yaml:"batch_size"`
	// max time spent filling a batch
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// BatchHandler processes one batch. A nil error commits the batch; an error
// retries it with backoff, then sends it to the DLQ topic if any.
type BatchHandler func(context.Context, []Message) error

type ConsumerGroup struct {
	r          *kafka.Reader
	cfg        ConsumerConfig
	prodForDLQ *Producer
	logger     *zap.Logger
}

func NewConsumerGroup(cfg ConsumerConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("consumer config: brokers and topic are required")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers})
	}

	return &ConsumerGroup{r: rd, cfg: cfg, prodForDLQ: prod, logger: logger.With(zap.String("topic", cfg.Topic))}, nil
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close()
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run delivers batches to handler until ctx is done. With a single worker
// batches are handled in fetch order.
func (cg *ConsumerGroup) Run(ctx context.Context, handler BatchHandler) error {
	if cg == nil || cg.r == nil {
		return errConsumerNotInitialized
	}

	batches := make(chan []kafka.Message, cg.cfg.WorkerCount)
	go cg.fetchLoop(ctx, batches)

	done := make(chan struct{}, cg.cfg.WorkerCount)
	for i := 0; i < cg.cfg.WorkerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ms := range batches {
				cg.handle(ctx, handler, ms)
			}
		}()
	}

	for exited := 0; exited < cg.cfg.WorkerCount; exited++ {
		<-done
	}
	return ctx.Err()
}

// fetchLoop fills batches up to BatchSize, flushing a partial batch once
// BatchTimeout has passed since its first message.
func (cg *ConsumerGroup) fetchLoop(ctx context.Context, batches chan<- []kafka.Message) {
	defer close(batches)

	var buf []kafka.Message
	var deadline time.Time
	for {
		fetchCtx := ctx
		cancel := context.CancelFunc(func() {})
		if len(buf) > 0 {
			fetchCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		m, err := cg.r.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			if len(buf) == 0 {
				deadline = time.Now().Add(cg.cfg.BatchTimeout)
			}
			buf = append(buf, m)
			if len(buf) < cg.cfg.BatchSize {
				continue
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			// batch timeout, flush below
		default:
			cg.logger.Warn("fetch error", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if len(buf) == 0 {
			continue
		}
		select {
		case batches <- buf:
			buf = nil
		case <-ctx.Done():
			return
		}
	}
}

func (cg *ConsumerGroup) handle(ctx context.Context, handler BatchHandler, ms []kafka.Message) {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cg.cfg.BackoffMin
	b.MaxInterval = cg.cfg.BackoffMax
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cg.cfg.MaxRetries)), ctx)

	err := backoff.Retry(func() error { return handler(ctx, wrapped) }, policy)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		cg.logger.Error("batch failed", zap.Int("size", len(ms)), zap.Int64("first_offset", ms[0].Offset), zap.Error(err))
		if cg.prodForDLQ != nil {
			for _, m := range ms {
				if err := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
					cg.logger.Error("dlq publish", zap.Error(err))
				}
			}
		}
	}
	if err := cg.r.CommitMessages(ctx, ms...); err != nil {
		cg.logger.Warn("commit error", zap.Error(err))
	}
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
		Raw:       m,
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

func mapToHeaders(m map[string]string) []kafka.Header {
	var kh []kafka.Header
	for k, v := range m {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kh
}
