package observer

import (
	"time"

	"github.com/taskpilot-ai/taskpilot/pkg/hookbus"
)

// Wire frames. All frames are self-describing JSON objects; field names are
// part of the observer protocol contract.

// Handshake is the first client message on a new connection.
type Handshake struct {
	ProtocolVersion int          `json:"protocolVersion"`
	Origin          string       `json:"origin"`
	AuthToken       string       `json:"authToken,omitempty"`
	Subscription    Subscription `json:"subscription"`
	BackfillCount   int          `json:"backfillCount,omitempty"`
	// ResumeConnectionID with LastSeenSeq requests replay of events missed
	// since a previous connection.
	ResumeConnectionID string `json:"resumeConnectionId,omitempty"`
	LastSeenSeq        uint64 `json:"lastSeenSeq,omitempty"`
}

// Subscription narrows which events the observer receives. An empty
// SessionIDs list (or the literal "*") means all sessions; an empty
// EventTypes list means all types.
type Subscription struct {
	SessionIDs []string `json:"sessionIds,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// Filter converts the wire subscription into a bus filter.
func (s Subscription) Filter() hookbus.Filter {
	f := hookbus.Filter{}
	for _, t := range s.EventTypes {
		f.Types = append(f.Types, hookbus.EventType(t))
	}
	if len(s.SessionIDs) == 1 && s.SessionIDs[0] != "*" {
		f.SessionID = s.SessionIDs[0]
	}
	return f
}

// matchesSession reports whether the subscription covers sessionID. Multiple
// explicit session ids are matched here since the bus filter carries at most
// one.
func (s Subscription) matchesSession(sessionID string) bool {
	if len(s.SessionIDs) == 0 {
		return true
	}
	for _, id := range s.SessionIDs {
		if id == "*" || id == sessionID {
			return true
		}
	}
	return false
}

func (s Subscription) matchesType(t hookbus.EventType) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, want := range s.EventTypes {
		if hookbus.EventType(want) == t {
			return true
		}
	}
	return false
}

// Matches reports whether the subscription covers the event.
func (s Subscription) Matches(ev hookbus.Event) bool {
	return s.matchesType(ev.Type) && s.matchesSession(ev.SessionID)
}

// Reject reason codes.
const (
	ReasonOverCapacity     = "over_capacity"
	ReasonOriginDenied     = "origin_denied"
	ReasonAuthFailed       = "auth_failed"
	ReasonProtocolMismatch = "protocol_mismatch"
)

// HandshakeReply is the server's answer to a Handshake.
type HandshakeReply struct {
	Accepted      bool   `json:"accepted"`
	ConnectionID  string `json:"connectionId,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Frame type tags for non-event frames.
const (
	frameTypePing   = "ping"
	frameTypePong   = "pong"
	frameTypeResync = "resync"
	frameTypeClose  = "close"
)

// EventFrame carries one hook event. Seq is monotonic per connection.
type EventFrame struct {
	Seq        uint64          `json:"seq"`
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    any             `json:"payload,omitempty"`
}

// PingFrame is the server's liveness probe.
type PingFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

// PongFrame answers a ping. ClientTs feeds the latency estimate.
type PongFrame struct {
	Type     string `json:"type"`
	Nonce    string `json:"nonce"`
	ClientTs int64  `json:"clientTs,omitempty"`
}

// ClientFrame is the union of messages a client may send after admission.
type ClientFrame struct {
	Type    string `json:"type"`
	Nonce   string `json:"nonce,omitempty"`
	FromSeq uint64 `json:"fromSeq,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ResyncOverflowFrame tells the observer the requested range fell off the
// backlog; it must resynchronise from the journal.
type ResyncOverflowFrame struct {
	Type     string `json:"type"`
	FromSeq  uint64 `json:"fromSeq"`
	Oldest   uint64 `json:"oldestAvailable"`
	Guidance string `json:"guidance"`
}

// CloseFrame announces an orderly close from either side.
type CloseFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
