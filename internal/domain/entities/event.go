package entities

import (
	"fmt"
	"time"
)

// EventType is the kind of behavioral signal recorded against a variant
type EventType string

const (
	EventTypeImpression EventType = "impression"
	EventTypeClick      EventType = "click"
	EventTypeConversion EventType = "conversion"
	// EventTypeCustom is stored but never touches counters.
	EventTypeCustom EventType = "custom"
)

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventTypeImpression, EventTypeClick, EventTypeConversion, EventTypeCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Delta returns the counter change caused by one event of this type.
func (t EventType) Delta(value float64) CounterDelta {
	switch t {
	case EventTypeImpression:
		return CounterDelta{Impressions: 1}
	case EventTypeClick:
		return CounterDelta{Clicks: 1}
	case EventTypeConversion:
		return CounterDelta{Conversions: 1, Revenue: value}
	}
	return CounterDelta{}
}

// ExperimentEvent is one immutable behavioral signal.
type ExperimentEvent struct {
	ID           string     `json:"id" db:"id"`
	ExperimentID string     `json:"experiment_id" db:"experiment_id"`
	VariantID    string     `json:"variant_id" db:"variant_id"`
	EventType    EventType  `json:"event_type" db:"event_type"`
	UserID       *string    `json:"user_id,omitempty" db:"user_id"`
	SessionID    *string    `json:"session_id,omitempty" db:"session_id"`
	Value        *float64   `json:"value,omitempty" db:"value"`
	Properties   Attributes `json:"properties" db:"properties"`
	OccurredAt   time.Time  `json:"occurred_at" db:"occurred_at"`
}

// EventCounts is the per-variant sum of events over a window.
type EventCounts struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Revenue     float64
}

// Add folds one event into the counts.
func (c *EventCounts) Add(e *ExperimentEvent) {
	var value float64
	if e.Value != nil {
		value = *e.Value
	}
	d := e.EventType.Delta(value)
	c.Impressions += d.Impressions
	c.Clicks += d.Clicks
	c.Conversions += d.Conversions
	c.Revenue += d.Revenue
}
