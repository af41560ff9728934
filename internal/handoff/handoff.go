// Package handoff delivers work a local queue has acquired to job creation,
// either through the queue's own durable feed or through an AMQP broker.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmwm/workqueue/internal/element"
)

// Handoff accepts acquired elements for job creation. Delivery is at least
// once; consumers dedupe on the element id.
type Handoff interface {
	Deliver(ctx context.Context, els []*element.Element) error
	Close() error
}

// Message is the body of one delivery.
type Message struct {
	Queue     string           `json:"queue"`
	Delivered time.Time        `json:"delivered"`
	Element   *element.Element `json:"element"`
}

func encode(queue string, el *element.Element, now time.Time) ([]byte, error) {
	b, err := json.Marshal(Message{Queue: queue, Delivered: now, Element: el})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", el.ID, err)
	}
	return b, nil
}

// Decode parses a delivery body.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	if m.Element == nil {
		return Message{}, fmt.Errorf("handoff: message without element")
	}
	return m, nil
}
