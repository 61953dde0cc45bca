package conversation

import "github.com/samsaffron/term-agent/internal/tools"

// EventType identifies an outbound notification.
type EventType string

const (
	EventData                 EventType = "data"
	EventThought              EventType = "thought"
	EventActivity             EventType = "activity"
	EventStatus               EventType = "status"
	EventError                EventType = "error"
	EventRequestAuthorization EventType = "request_authorization"
	EventResponseComplete     EventType = "response_complete"
)

// Status is the conversation state shown to the user.
type Status string

const (
	StatusReady                 Status = "ready"
	StatusThinking              Status = "thinking"
	StatusAwaitingAuthorization Status = "awaiting_authorization"
	StatusRunningTool           Status = "running_tool"
)

// Outcome is how a Send ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeLocal        Outcome = "local" // handled by a slash command
	OutcomeAborted      Outcome = "aborted"
	OutcomeDenied       Outcome = "denied"
	OutcomeMaxTurns     Outcome = "max_turns"
	OutcomeFailed       Outcome = "failed"
	OutcomeLoopDetected Outcome = "loop_detected"
)

// Event is one notification to the presentation layer. Only the fields
// relevant to Type are set.
type Event struct {
	Type          EventType
	Text          string                      // data, thought, activity, error
	Status        Status                      // status
	Authorization *tools.AuthorizationRequest // request_authorization
	Outcome       Outcome                     // response_complete
}

// Observer receives events on the goroutine running the turn. Handle must not
// call Stop synchronously while handling a data event; hand the event off
// instead.
type Observer interface {
	Handle(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Handle(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Handle(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Handle(e)
		}
	}
}
