package client

import (
	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// Recovery actions reported with a terminal failure.
const (
	ActionRolledBack = "rolled_back"
	ActionReconciled = "reconciled"
	ActionDiscarded  = "discarded"
)

// Failure describes an operation that will not be retried again.
type Failure struct {
	Op     Operation
	Err    error
	Kind   board.Kind
	Action string
}

// Notifier receives terminal failures, typically to show a transient
// notification to the user.
type Notifier interface {
	Notify(f Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Failure)

func (fn NotifierFunc) Notify(f Failure) { fn(f) }

// LogNotifier logs terminal failures.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(f Failure) {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"op":      f.Op.ID,
		"kind":    f.Kind,
		"action":  f.Action,
		"retries": f.Op.RetryCount,
	}).WithError(f.Err).Warn("operation failed")
}
