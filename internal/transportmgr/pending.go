package transportmgr

import "sync"

// pendingTable tracks the message IDs of sends currently in flight through
// the manager. Per spec §5 ("the pending-request table is private to the
// manager; only the manager inserts and removes entries"), it exists so the
// inbound fan-out path (manager.go's onTransportMessage) can tell a chunk
// correlated to a live call apart from a genuinely unsolicited push: the
// former is delivered alongside the raw `message` event so a caller
// watching for its own correlation id sees it, the latter is routed to
// subscribers registered by message type.
type pendingTable struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func newPendingTable() *pendingTable {
	return &pendingTable{live: make(map[string]struct{})}
}

// add registers id as in flight.
func (p *pendingTable) add(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.live[id] = struct{}{}
	p.mu.Unlock()
}

// remove clears id, whether or not it resolved successfully. Idempotent.
func (p *pendingTable) remove(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	delete(p.live, id)
	p.mu.Unlock()
}

// has reports whether id currently names an in-flight send.
func (p *pendingTable) has(id string) bool {
	if id == "" {
		return false
	}
	p.mu.Lock()
	_, ok := p.live[id]
	p.mu.Unlock()
	return ok
}

// len reports the number of in-flight sends, used for metrics.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
