// Package notify delivers structured pipeline results to external sinks.
// Delivery is fire-and-forget: sink failures are logged by the caller and
// never escalate into pipeline failures.
package notify

import (
	"fmt"
	"strings"
	"time"
)

// ArchDetail is the per-architecture breakdown reported for dual-arch and
// LOB builds.
type ArchDetail struct {
	Arch    string `json:"arch"`
	Version string `json:"version"`
}

// Message is one label run's result.
type Message struct {
	Label       string        `json:"label"`
	DisplayName string        `json:"displayName,omitempty"`
	Version     string        `json:"version,omitempty"`
	SizeBytes   int64         `json:"sizeBytes,omitempty"`
	Success     bool          `json:"success"`
	Skipped     bool          `json:"skipped,omitempty"`
	Error       string        `json:"error,omitempty"`
	Took        time.Duration `json:"took,omitempty"`
	Archs       []ArchDetail  `json:"archs,omitempty"`
}

// Sink receives pipeline results.
type Sink interface {
	Send(msg Message) error
}

// Text renders the message as the single line used in chat notifications.
func (m Message) Text() string {
	var b strings.Builder
	name := m.DisplayName
	if name == "" {
		name = m.Label
	}
	switch {
	case m.Skipped:
		fmt.Fprintf(&b, "⏭ %s: version %s already up to date", name, m.Version)
	case m.Success:
		fmt.Fprintf(&b, "✅ %s %s uploaded (%d bytes)", name, m.Version, m.SizeBytes)
	default:
		fmt.Fprintf(&b, "❌ %s failed: %s", name, m.Error)
	}
	for _, a := range m.Archs {
		fmt.Fprintf(&b, " [%s %s]", a.Arch, a.Version)
	}
	return b.String()
}

// Multi fans a message out to several sinks, returning the first error.
type Multi []Sink

func (m Multi) Send(msg Message) error {
	var first error
	for _, s := range m {
		if err := s.Send(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards all messages.
type Nop struct{}

func (Nop) Send(Message) error { return nil }
