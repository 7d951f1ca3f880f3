// Package bus carries asynchronous parse jobs between the API and the worker.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/insurelab/coverage-parser/internal/domain"
)

var (
	// ErrClosed is returned by a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrTenantRequired is returned when a call omits the tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrBacklogged is returned when a subscriber's buffer is full.
	ErrBacklogged = errors.New("subscriber backlog full")
)

// New creates an event bus for the configured type: "channel" for a
// single process, "nats" for a deployment with separate workers.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// MetaTraceID carries the publisher's trace id so a worker's logs can be
// joined with the request that queued the job.
const MetaTraceID = "trace_id"

func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		msg.Metadata = map[string]string{MetaTraceID: sc.TraceID().String()}
	}
	return msg
}

// EncodeJob serializes a parse job.
func EncodeJob(job domain.ParseJob) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a parse job payload.
func DecodeJob(payload []byte) (domain.ParseJob, error) {
	var job domain.ParseJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode parse job: %w", err)
	}
	if job.RecordID == "" {
		return job, fmt.Errorf("%w: parse job without recordId", domain.ErrInvalidInput)
	}
	return job, nil
}

// EncodeEvent serializes a parse completion event.
func EncodeEvent(ev domain.ParseEvent) ([]byte, error) {
	return json.Marshal(ev)
}
