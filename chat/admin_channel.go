package chat

import (
	"errors"
	"sync"

	"github.com/6587027/VipStore-sub001/metrics"
)

// AdminChannel is the support desk fan-out group. Membership changes only when
// an admin connection joins or disconnects.
type AdminChannel struct {
	mu      sync.RWMutex
	members map[string]Conn
}

func NewAdminChannel() *AdminChannel {
	return &AdminChannel{members: make(map[string]Conn)}
}

func (a *AdminChannel) Subscribe(conn Conn) {
	a.mu.Lock()
	a.members[conn.ID()] = conn
	size := len(a.members)
	a.mu.Unlock()
	metrics.AdminSubscribers.Set(float64(size))
}

func (a *AdminChannel) Unsubscribe(connID string) {
	a.mu.Lock()
	delete(a.members, connID)
	size := len(a.members)
	a.mu.Unlock()
	metrics.AdminSubscribers.Set(float64(size))
}

// Publish queues evt on every subscribed admin connection and returns how many
// accepted it. A member whose queue is full is disconnected.
func (a *AdminChannel) Publish(evt Outbound) int {
	a.mu.RLock()
	members := make([]Conn, 0, len(a.members))
	for _, conn := range a.members {
		members = append(members, conn)
	}
	a.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if deliver(conn, evt) {
			delivered++
		}
	}
	return delivered
}

func (a *AdminChannel) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.members)
}

// deliver is the non-blocking send shared by every fan-out path.
func deliver(conn Conn, evt Outbound) bool {
	err := conn.Send(evt)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrSendQueueFull) {
		metrics.FanoutDrops.Inc()
		conn.Close()
	}
	return false
}
