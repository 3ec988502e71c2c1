// Package kafkautil streams run records to a Kafka topic.
package kafkautil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/andrej220/httpfuzz/pkg/classify"
	"github.com/andrej220/httpfuzz/pkg/state"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

type Config struct {
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// RunMessage is the payload of every published message.
type RunMessage struct {
	SessionID uuid.UUID       `json:"sessionId"`
	Index     uint64          `json:"index"`
	Target    string          `json:"target,omitempty"`
	Input     []byte          `json:"input"`
	Record    state.RunRecord `json:"record"`
	At        time.Time       `json:"at"`
}

// RecordPublisher is an observer that publishes the record of every finished run.
type RecordPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

func NewRecordPublisher(cfg Config) *RecordPublisher {
	return &RecordPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic:        cfg.Topic,
		writeTimeout: defaultWriteTimeout,
	}
}

func (p *RecordPublisher) Name() string { return "kafka:" + p.topic }

func (p *RecordPublisher) PreExec(*state.State, []byte) error { return nil }

func (p *RecordPublisher) PostExec(st *state.State, input []byte, _ classify.Outcome) error {
	idx := st.Executions()
	rec, ok := st.Record(idx)
	if !ok {
		return fmt.Errorf("no record for run %d", idx)
	}
	target, _ := state.MetadataAs[string](st, state.MetaTarget)

	value, err := json.Marshal(RunMessage{
		SessionID: st.SessionID(),
		Index:     idx,
		Target:    target,
		Input:     input,
		Record:    rec,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal run message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(st.SessionID().String() + "/" + strconv.FormatUint(idx, 10)),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return fmt.Errorf("topic %q does not exist: %w", p.topic, err)
		}
		return fmt.Errorf("publish run %d: %w", idx, err)
	}
	return nil
}

func (p *RecordPublisher) Close() error {
	return p.writer.Close()
}
