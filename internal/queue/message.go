// Package queue carries generation requests from ingestion to workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

// TriggerManual marks a message sent on behalf of an operator. Only manual
// triggers may re-run a failed operation.
const TriggerManual = "manual"

// Message asks a worker to run generation for one operation.
type Message struct {
	OperationID uuid.UUID `json:"operationId"`
	Timestamp   time.Time `json:"timestamp"`
	Trigger     string    `json:"trigger,omitempty"`
}

func NewMessage(operationID uuid.UUID) Message {
	return Message{OperationID: operationID, Timestamp: time.Now().UTC()}
}

func NewManualMessage(operationID uuid.UUID) Message {
	m := NewMessage(operationID)
	m.Trigger = TriggerManual
	return m
}

func (m Message) Manual() bool { return m.Trigger == TriggerManual }

func (m Message) Encode() ([]byte, error) { return json.Marshal(m) }

// Decode parses a message body. Malformed bodies are validation errors and
// must not be redelivered.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return m, apperrors.Validationf("malformed queue message: %v", err)
	}
	if m.OperationID == uuid.Nil {
		return m, apperrors.Validationf("queue message without operationId")
	}
	return m, nil
}

// Producer enqueues generation requests.
type Producer interface {
	Enqueue(ctx context.Context, m Message) error
}

// Handler processes one message. A nil error acknowledges it.
type Handler func(ctx context.Context, m Message) error

// Delivery is one received message with its transport id.
type Delivery struct {
	ID   string
	Body []byte
}

// ProcessBatch handles each delivery on its own and returns the ids of the
// ones that should be redelivered. Malformed bodies are dropped.
func ProcessBatch(ctx context.Context, deliveries []Delivery, h Handler, onDrop func(d Delivery, err error)) []string {
	var failed []string
	for _, d := range deliveries {
		m, err := Decode(d.Body)
		if err != nil {
			if onDrop != nil {
				onDrop(d, err)
			}
			continue
		}
		if err := safeHandle(ctx, h, m); err != nil {
			failed = append(failed, d.ID)
		}
	}
	return failed
}

func safeHandle(ctx context.Context, h Handler, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling operation %s: %v", m.OperationID, r)
		}
	}()
	return h(ctx, m)
}
