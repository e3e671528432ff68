// Package events publishes recorded violations onto the message bus so
// dashboards and downstream consumers see them without polling the database.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ViolationMessage is the payload published for every recorded violation.
type ViolationMessage struct {
	EventID   int64     `json:"event_id"`
	CctvID    int64     `json:"cctv_id"`
	ClassID   int64     `json:"class_id"`
	ClassName string    `json:"class_name"`
	ImageURL  string    `json:"image_url"`
	TS        time.Time `json:"ts"`

	// TrackID feeds the dedup key and stays off the wire.
	TrackID int `json:"-"`
}

type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	dedup      *Dedup
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int, dedup *Dedup) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		dedup:      dedup,
	}
}

// PublishViolation sends the message with bounded retries. A message whose
// dedup key was seen inside the window is silently skipped, which guards
// against replays when a pipeline restarts mid-event.
func (p *Publisher) PublishViolation(msg ViolationMessage) error {
	if p.dedup != nil && p.dedup.IsDuplicate(DedupKey(msg)) {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// DedupKey buckets the event to its minute so a re-detected track inside
// one cooldown window maps to the same key.
func DedupKey(msg ViolationMessage) string {
	ts := msg.TS.Truncate(time.Minute).Unix()
	return fmt.Sprintf("%d|%d|%d|%d", msg.CctvID, msg.ClassID, msg.TrackID, ts)
}
