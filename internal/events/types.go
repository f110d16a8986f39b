// Package events carries engine progress notifications from the simulation
// drivers to subscribers such as the websocket stream.
package events

import "time"

// EventType names an event
type EventType string

const (
	RunStarted         EventType = "RUN_STARTED"
	IterationCompleted EventType = "ITERATION_COMPLETED"
	IterationFailed    EventType = "ITERATION_FAILED"
	RunConverged       EventType = "RUN_CONVERGED"
	RunCompleted       EventType = "RUN_COMPLETED"
	RunFailed          EventType = "RUN_FAILED"
	ReportArchived     EventType = "REPORT_ARCHIVED"
)

// AllTypes lists every event type in emission order of a run
func AllTypes() []EventType {
	return []EventType{RunStarted, IterationCompleted, IterationFailed, RunConverged, RunCompleted, RunFailed, ReportArchived}
}

// Event is one emitted notification
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
