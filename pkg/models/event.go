// Package models defines the core domain models for the response orchestration core.
package models

import "time"

// EventCategory classifies normalized events for routing decisions.
type EventCategory string

const (
	CategoryPublicSafety   EventCategory = "public_safety"
	CategoryOfficerSafety  EventCategory = "officer_safety"
	CategoryInfrastructure EventCategory = "infrastructure"
	CategoryTraffic        EventCategory = "traffic"
	CategoryCityServices   EventCategory = "city_services"
	CategoryGeneral        EventCategory = "general"
)

// Priority levels run from 1 (critical) to 5 (informational). A lower number
// always wins over a higher one.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4
	PriorityInfo     = 5
)

// Location is a WGS84 coordinate pair with an optional human-readable label.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// NormalizedEvent is the canonical event shape produced by the router.
// It is immutable once created; the ID is generated by the router and is
// distinct from any identifier carried by the originating system.
type NormalizedEvent struct {
	ID         string         `json:"id"`
	Channel    string         `json:"channel"`
	Type       string         `json:"type"`
	Category   EventCategory  `json:"category"`
	Priority   int            `json:"priority"`
	Timestamp  time.Time      `json:"timestamp"`
	Location   *Location      `json:"location,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// RoutingRule forwards normalized events to target pipelines. A rule with an
// empty Channels list applies to every channel; PriorityThreshold is a ceiling
// (numerically lower = higher priority).
type RoutingRule struct {
	Name              string          `json:"name"               validate:"required"`
	Channels          []string        `json:"channels,omitempty"`
	Categories        []EventCategory `json:"categories"         validate:"required,min=1"`
	PriorityThreshold int             `json:"priority_threshold" validate:"required,min=1,max=5"`
	Pipelines         []string        `json:"pipelines"          validate:"required,min=1"`
	Enabled           bool            `json:"enabled"`
}

// AppliesTo reports whether the rule matches an event arriving on channel.
func (r *RoutingRule) AppliesTo(channel string, event *NormalizedEvent) bool {
	if !r.Enabled {
		return false
	}

	if len(r.Channels) > 0 && !containsString(r.Channels, channel) {
		return false
	}

	matched := false

	for _, c := range r.Categories {
		if c == event.Category {
			matched = true

			break
		}
	}

	if !matched {
		return false
	}

	return event.Priority <= r.PriorityThreshold
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
