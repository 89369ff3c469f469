package hub

// Presence derives online state from the registry. It keeps no state of its own.
type Presence struct {
	registry  *Registry
	transport Transport
}

// NewPresence creates a presence tracker.
func NewPresence(registry *Registry, transport Transport) *Presence {
	return &Presence{registry: registry, transport: transport}
}

// IsOnline reports whether the user has at least one live connection.
func (p *Presence) IsOnline(userID string) bool {
	return p.registry.IsOnline(userID)
}

// OnlineUserIDs returns every user with at least one live connection.
func (p *Presence) OnlineUserIDs() []string {
	return p.registry.OnlineUserIDs()
}

// broadcast tells every other authenticated connection about a transition.
// It is the registry's PresenceFunc and runs under the user's shard lock.
func (p *Presence) broadcast(userID string, online bool) {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	frame := encodeFrame(event, presencePayload{UserID: userID})
	p.transport.BroadcastExcept(presenceRoom, UserRoom(userID), frame)
}
