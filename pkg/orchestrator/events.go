package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventType identifies the kind of job event
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether the event ends a job
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is published on the orchestrator's channel for every job change
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"jobId"`
	WalletID  string    `json:"walletId"`
	ProjectID string    `json:"projectId,omitempty"`
	Chain     string    `json:"chain"`
	Status    Status    `json:"status"`

	StartBlock   uint64  `json:"startBlock"`
	EndBlock     uint64  `json:"endBlock"`
	CurrentBlock uint64  `json:"currentBlock"`
	Percentage   float64 `json:"percentage"`

	TransactionsFound uint64  `json:"transactionsFound"`
	EventsFound       uint64  `json:"eventsFound"`
	BlocksPerSecond   float64 `json:"blocksPerSecond"`
	Error             string  `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func newEvent(typ EventType, job *IndexingJob, at time.Time) Event {
	return Event{
		Type:              typ,
		JobID:             job.ID,
		WalletID:          job.WalletID,
		ProjectID:         job.ProjectID,
		Chain:             job.Chain,
		Status:            job.Status,
		StartBlock:        job.StartBlock,
		EndBlock:          job.EndBlock,
		CurrentBlock:      job.CurrentBlock,
		Percentage:        job.Percentage(),
		TransactionsFound: job.TransactionsFound,
		EventsFound:       job.EventsFound,
		BlocksPerSecond:   job.BlocksPerSecond,
		Error:             job.ErrorMessage,
		Timestamp:         at,
	}
}

// EventSink mirrors job events outside the process
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaSink
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSinkConfig configures the Kafka job event mirror
type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
	NodeID  string
}

// KafkaSink writes job events to a Kafka topic keyed by wallet id, so all
// events of a wallet land on one partition in order
type KafkaSink struct {
	writer messageWriter
	nodeID string
	logger *zap.Logger
}

// NewKafkaSink creates an asynchronous Kafka writer for job events
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no Kafka topic configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	sinkLogger := logger.With(zap.String("component", "kafka-sink"), zap.String("topic", cfg.Topic))
	writer.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
		sinkLogger.Warn(fmt.Sprintf(msg, args...))
	})

	return newKafkaSink(writer, cfg.NodeID, sinkLogger), nil
}

func newKafkaSink(w messageWriter, nodeID string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: w, nodeID: nodeID, logger: logger}
}

// Publish writes one event
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.WalletID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "job_id", Value: []byte(ev.JobID)},
			{Key: "node_id", Value: []byte(s.nodeID)},
			{Key: "timestamp", Value: []byte(ev.Timestamp.Format(time.RFC3339Nano))},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
