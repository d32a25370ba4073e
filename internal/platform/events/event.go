// Package events publishes schedule lifecycle events to the message broker
// and to connected planning clients.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	TypeSchedulePublished = "schedule.published"
	TypeScheduleArchived  = "schedule.archived"
	TypeScheduleDrafted   = "schedule.drafted"
)

// TopicAll receives every event.
const TopicAll = "schedules"

// Event is a schedule lifecycle notification.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	ScheduleID uuid.UUID       `json:"schedule_id"`
	Mode       string          `json:"mode"`
	DoctorID   *uuid.UUID      `json:"doctor_id,omitempty"`
	WeekStart  string          `json:"week_start"`
	Version    int             `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id and the current time. A data value
// that fails to marshal leaves Data empty.
func New(typ string, scheduleID uuid.UUID, mode string, doctorID *uuid.UUID, weekStart string, version int, data interface{}) Event {
	ev := Event{
		ID:         uuid.New(),
		Type:       typ,
		ScheduleID: scheduleID,
		Mode:       mode,
		DoctorID:   doctorID,
		WeekStart:  weekStart,
		Version:    version,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Topics lists the feeds the event is delivered to.
func (e Event) Topics() []string {
	topics := []string{TopicAll, "week:" + e.WeekStart, "schedule:" + e.ScheduleID.String()}
	if e.DoctorID != nil {
		topics = append(topics, "doctor:"+e.DoctorID.String())
	}
	return topics
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
