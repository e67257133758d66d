// Package audit records ingest decisions as append-only structured JSON.
// Every accepted, rejected, duplicate and unauthenticated-by-configuration
// delivery leaves a line an operator can grep.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the ingest outcome being audited.
type Decision string

const (
	DecisionAccepted        Decision = "ACCEPTED"
	DecisionRejected        Decision = "REJECTED"
	DecisionDuplicate       Decision = "DUPLICATE"
	DecisionUnauthenticated Decision = "UNAUTHENTICATED_BY_CONFIG"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Provider  string         `json:"provider"`
	UserID    string         `json:"user_id,omitempty"`
	EventKey  string         `json:"event_key,omitempty"`
	Decision  Decision       `json:"decision"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records ingest decisions.
type Logger interface {
	Record(ctx context.Context, decision Decision, provider, userID, eventKey, reason string, metadata map[string]any)
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
	now    func() time.Time
}

// NewLogger creates a Logger writing JSON lines to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to w; tests inject a buffer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, now: time.Now}
}

// Record implements Logger. Serialization failures are swallowed: auditing
// must never take down ingestion.
func (l *logger) Record(_ context.Context, decision Decision, provider, userID, eventKey, reason string, metadata map[string]any) {
	e := Event{
		ID:        uuid.NewString(),
		Provider:  provider,
		UserID:    userID,
		EventKey:  eventKey,
		Decision:  decision,
		Reason:    reason,
		Timestamp: l.now().UTC(),
		Metadata:  metadata,
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(append(line, '\n'))
}

// Nop returns a Logger that discards every record.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(context.Context, Decision, string, string, string, string, map[string]any) {
}
