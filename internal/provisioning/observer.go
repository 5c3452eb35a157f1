package provisioning

import (
	"fmt"
	"log"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Logger is the minimal printf-style logging surface.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Observer reports provisioning progress as structured events.
type Observer interface {
	Logger

	// Event emits a structured event.
	Event(event Event)

	// WithFields returns an Observer that attaches the fields to every
	// subsequent event.
	WithFields(fields map[string]string) Observer
}

// Event is one structured provisioning event.
type Event struct {
	Type      EventType
	Step      string
	Message   string
	Resource  string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType classifies provisioning events.
type EventType string

const (
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepSkipped   EventType = "step.skipped"
	EventStepFailed    EventType = "step.failed"

	EventResourceCreating  EventType = "resource.creating"
	EventResourceCreated   EventType = "resource.created"
	EventResourceReused    EventType = "resource.reused"
	EventResourceDeleting  EventType = "resource.deleting"
	EventResourceDeleted   EventType = "resource.deleted"
	EventResourcePreserved EventType = "resource.preserved"
	EventResourceFailed    EventType = "resource.failed"

	EventValidationError EventType = "validation.error"
)

// LogrObserver implements Observer on top of a logr.Logger.
type LogrObserver struct {
	logger logr.Logger
	fields map[string]string
}

// NewLogrObserver creates an observer writing through the given logger.
func NewLogrObserver(logger logr.Logger) *LogrObserver {
	return &LogrObserver{logger: logger, fields: make(map[string]string)}
}

// NewConsoleObserver creates an observer that writes to the standard logger.
func NewConsoleObserver() *LogrObserver {
	logger := funcr.New(func(prefix, args string) {
		if prefix != "" {
			log.Printf("%s: %s", prefix, args)
			return
		}
		log.Print(args)
	}, funcr.Options{})
	return NewLogrObserver(logger)
}

// Printf implements Logger.
func (o *LogrObserver) Printf(format string, v ...interface{}) {
	o.logger.Info(fmt.Sprintf(format, v...))
}

// Event implements Observer.
func (o *LogrObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	kv := make([]interface{}, 0, 2*(len(o.fields)+len(event.Fields))+6)
	kv = append(kv, "event", string(event.Type))
	if event.Step != "" {
		kv = append(kv, "step", event.Step)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	for k, v := range o.fields {
		if _, shadowed := event.Fields[k]; !shadowed {
			kv = append(kv, k, v)
		}
	}
	for k, v := range event.Fields {
		kv = append(kv, k, v)
	}

	o.logger.Info(event.Message, kv...)
}

// WithFields implements Observer.
func (o *LogrObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LogrObserver{logger: o.logger, fields: merged}
}

// NopObserver discards all output. Useful in tests.
type NopObserver struct{}

func (NopObserver) Printf(string, ...interface{}) {}

func (NopObserver) Event(Event) {}

func (n NopObserver) WithFields(map[string]string) Observer { return n }

// Event helpers shared by the family provisioners.

// LogResourceCreating logs the start of a resource creation.
func LogResourceCreating(observer Observer, step, resourceType, name string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Step:     step,
		Resource: name,
		Message:  fmt.Sprintf("creating %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceCreated logs a successful resource creation.
func LogResourceCreated(observer Observer, step, resourceType, name, id string) {
	observer.Event(Event{
		Type:     EventResourceCreated,
		Step:     step,
		Resource: name,
		Message:  fmt.Sprintf("%s created", resourceType),
		Fields:   map[string]string{"type": resourceType, "id": id},
	})
}

// LogResourceReused logs adoption of a user-supplied resource.
func LogResourceReused(observer Observer, step, resourceType, id string) {
	observer.Event(Event{
		Type:     EventResourceReused,
		Step:     step,
		Resource: id,
		Message:  fmt.Sprintf("reusing %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceDeleting logs the start of a resource deletion.
func LogResourceDeleting(observer Observer, step, resourceType, id string) {
	observer.Event(Event{
		Type:     EventResourceDeleting,
		Step:     step,
		Resource: id,
		Message:  fmt.Sprintf("deleting %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceDeleted logs a successful resource deletion.
func LogResourceDeleted(observer Observer, step, resourceType, id string) {
	observer.Event(Event{
		Type:     EventResourceDeleted,
		Step:     step,
		Resource: id,
		Message:  fmt.Sprintf("%s deleted", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}
