package domain

// ParticipantID identifies a participant for the lifetime of its relay
// connection. It is assigned by the relay and opaque to this client.
type ParticipantID string

// Role is the part a participant plays in a room. The relay assigns it once
// per session; a locally requested role is a request, not a guarantee.
type Role string

const (
	RoleUnassigned  Role = ""
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// ParseRole maps the wire value to a Role, defaulting to viewer for anything
// unrecognized so a bad relay payload cannot mint a second broadcaster.
func ParseRole(s string) Role {
	if s == string(RoleBroadcaster) {
		return RoleBroadcaster
	}
	return RoleViewer
}

// LinkDirection says which side initiated a peer link.
type LinkDirection string

const (
	LinkOutbound LinkDirection = "outbound"
	LinkInbound  LinkDirection = "inbound"
)

// LinkState is the coarse lifecycle of a peer link.
type LinkState string

const (
	LinkConnecting LinkState = "connecting"
	LinkConnected  LinkState = "connected"
	LinkClosed     LinkState = "closed"
)
