package hub

import (
	"strings"
	"unicode/utf8"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Room name prefixes.
const (
	prefixUser     = "user:"
	prefixRole     = "role:"
	prefixVendor   = "vendor:"
	prefixVenue    = "venue:"
	prefixInternal = "hub:"

	// presenceRoom holds every authenticated connection.
	presenceRoom = prefixInternal + "presence"

	maxRoomNameLength = 128
)

// UserRoom names the room every connection of a user joins on authenticate.
func UserRoom(userID string) string { return prefixUser + userID }

// RoleRoom names the room every connection of a role joins on authenticate.
func RoleRoom(role string) string { return prefixRole + role }

// VendorRoom names a vendor page room.
func VendorRoom(vendorID string) string { return prefixVendor + vendorID }

// VenueRoom names a venue page room.
func VenueRoom(venueID string) string { return prefixVenue + venueID }

// Rooms manages logical group membership on top of the transport.
type Rooms struct {
	transport Transport
}

// NewRooms creates a room manager over a transport.
func NewRooms(transport Transport) *Rooms {
	return &Rooms{transport: transport}
}

// Join is idempotent. It reports whether the connection was newly added.
func (r *Rooms) Join(connID, room string) (bool, error) {
	return r.transport.Join(connID, room)
}

// Leave is idempotent. It reports whether the connection was a member.
func (r *Rooms) Leave(connID, room string) bool {
	return r.transport.Leave(connID, room)
}

// Broadcast sends an event to the members present at call time.
func (r *Rooms) Broadcast(room, event string, payload any) int {
	return r.transport.Broadcast(room, encodeFrame(event, payload))
}

// Members asks the transport who is in a room.
func (r *Rooms) Members(room string) []string {
	return r.transport.Members(room)
}

// autoJoin subscribes a freshly authenticated connection to its implicit rooms.
func (r *Rooms) autoJoin(connID string, id domain.Identity) error {
	for _, room := range implicitRooms(id) {
		if _, err := r.transport.Join(connID, room); err != nil {
			return err
		}
	}
	return nil
}

// autoLeave drops the implicit rooms of a replaced identity that the new one does not share.
func (r *Rooms) autoLeave(connID string, prev, next domain.Identity) {
	keep := make(map[string]bool)
	for _, room := range implicitRooms(next) {
		keep[room] = true
	}
	for _, room := range implicitRooms(prev) {
		if !keep[room] {
			r.transport.Leave(connID, room)
		}
	}
}

func implicitRooms(id domain.Identity) []string {
	rooms := []string{UserRoom(id.UserID), presenceRoom}
	if id.Role != "" {
		rooms = append(rooms, RoleRoom(id.Role))
	}
	return rooms
}

// validateClientRoom checks a room a client asked to join or leave explicitly.
// Implicit rooms are managed by the hub and cannot be targeted by clients.
func validateClientRoom(room string) (string, error) {
	room = strings.TrimSpace(room)
	switch {
	case room == "":
		return "", &ValidationError{Field: "roomId", Reason: "room id is required"}
	case utf8.RuneCountInString(room) > maxRoomNameLength:
		return "", &ValidationError{Field: "roomId", Reason: "room id is too long"}
	case strings.HasPrefix(room, prefixUser),
		strings.HasPrefix(room, prefixRole),
		strings.HasPrefix(room, prefixInternal):
		return "", &ValidationError{Field: "roomId", Reason: "room is managed by the server"}
	case room == prefixVendor, room == prefixVenue:
		return "", &ValidationError{Field: "roomId", Reason: "room id is missing an entity id"}
	}
	return room, nil
}
