package services

import (
	"log"
)

// Event is the structured payload handed to the notification transport.
type Event struct {
	Type      string                 `json:"type"`
	AccountID uint                   `json:"account_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Notifier is the external notification collaborator. The engine emits at
// most one event per state-changing operation, after the mutation commits;
// delivery failures are logged and never rolled back into the ledger.
type Notifier interface {
	Notify(event Event) error
}

// LogNotifier writes events to the process log. The default transport until a
// real delivery pipeline is plugged in.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) error {
	log.Printf("notification: type=%s account=%d payload=%v", e.Type, e.AccountID, e.Payload)
	return nil
}

// emit sends an event best-effort.
func emit(n Notifier, e Event) {
	if n == nil {
		return
	}
	if err := n.Notify(e); err != nil {
		log.Printf("Warning: failed to deliver %s notification for account %d: %v", e.Type, e.AccountID, err)
	}
}
