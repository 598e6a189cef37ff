// Component E (chronicler half): append-only per-context event/log buffer.
//
// Drained into the receipt on success, discarded on failure (spec §3).
package core

import (
	"sync"

	"github.com/google/uuid"
)

// Chronicler buffers events and log lines for the lifetime of one execution
// context. CorrelationID is a fresh UUID per chronicler; it is not attached
// to the messages published on the message bus.
type Chronicler struct {
	mu            sync.Mutex
	CorrelationID string
	events        []Event
	logs          []LogLine
}

func NewChronicler() *Chronicler {
	return &Chronicler{CorrelationID: uuid.NewString()}
}

func (c *Chronicler) LogLine(txID *Multihash, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, LogLine{TransactionID: txID, Message: msg})
}

func (c *Chronicler) EmitEvent(txID *Multihash, source, name string, impacted []Address, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{
		Source:           source,
		Name:             name,
		ImpactedAccounts: impacted,
		Data:             data,
		TransactionID:    txID,
	})
}

// Drain returns and clears the buffered events/logs (called on success).
func (c *Chronicler) Drain() ([]Event, []LogLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	logs := c.logs
	c.events = nil
	c.logs = nil
	return events, logs
}

// Discard clears the buffer without returning its contents (called on
// transaction/block failure, per spec §2 dataflow: "Events buffered in the
// chronicler are flushed to the message bus only on success").
func (c *Chronicler) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.logs = nil
}

// EventsForTransaction filters events belonging to a specific transaction,
// used when building a per-transaction receipt out of a block-wide buffer.
func EventsForTransaction(events []Event, txID Multihash) []Event {
	var out []Event
	for _, e := range events {
		if e.TransactionID != nil && e.TransactionID.Equal(txID) {
			out = append(out, e)
		}
	}
	return out
}
