// Package protocol defines the wire message shapes exchanged between a
// collabtext client and server, and the edit-batch/hunk types shared by
// the diff/patch engine, the client sync engine, and the server sync core.
package protocol

// Hunk is one edit operation produced by the diff engine: delete Delete
// and insert Insert at the position located by matching
// ContextBefore/ContextAfter near Offset.
type Hunk struct {
	ContextBefore string `json:"context_before"`
	ContextAfter  string `json:"context_after"`
	Delete        string `json:"delete"`
	Insert        string `json:"insert"`
	Offset        int    `json:"offset"`
}

// Batch is an ordered, possibly-empty edit batch, checksummed against the
// sender's pre-diff shadow.
type Batch struct {
	SourceVersion uint64 `json:"source_version"`
	TargetVersion uint64 `json:"target_version"`
	Checksum      string `json:"checksum"`
	Hunks         []Hunk `json:"hunks"`
}

// IsEmpty reports whether the batch carries no hunks.
func (b Batch) IsEmpty() bool {
	return len(b.Hunks) == 0
}

// MessageType discriminates the wire envelope variants in §6.
type MessageType string

const (
	TypeConnect    MessageType = "connect"
	TypeConnectOk  MessageType = "connect_ok"
	TypeClientSync MessageType = "client_sync"
	TypeServerSync MessageType = "server_sync"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeError      MessageType = "error"
)

// Envelope is the outer shape every wire message is framed in; exactly one
// of the pointer fields is non-nil depending on Type.
type Envelope struct {
	Type       MessageType `json:"type"`
	Connect    *Connect    `json:"connect,omitempty"`
	ConnectOk  *ConnectOk  `json:"connect_ok,omitempty"`
	ClientSync *ClientSync `json:"client_sync,omitempty"`
	ServerSync *ServerSync `json:"server_sync,omitempty"`
	Heartbeat  *Heartbeat  `json:"heartbeat,omitempty"`
	Error      *Error      `json:"error,omitempty"`
}

// Connect is sent once by a client to establish a session.
type Connect struct {
	ClientID string `json:"client_id"`
}

// ConnectOk is the server's reply to Connect (and to a forced resync).
type ConnectOk struct {
	Content string `json:"content"`
	Version uint64 `json:"version"`
}

// ClientSync carries a client-authored edit batch to the server.
type ClientSync struct {
	ClientID      string `json:"client_id"`
	SourceVersion uint64 `json:"source_version"`
	TargetVersion uint64 `json:"target_version"`
	Checksum      string `json:"checksum"`
	Hunks         []Hunk `json:"hunks"`
}

// ServerSync carries a server-authored edit batch to one client.
type ServerSync struct {
	SourceVersion uint64 `json:"source_version"`
	TargetVersion uint64 `json:"target_version"`
	Checksum      string `json:"checksum"`
	Hunks         []Hunk `json:"hunks"`
}

// Heartbeat is an independent keep-alive message; it carries no sync state.
type Heartbeat struct {
	ClientID string `json:"client_id"`
}

// Error reports a protocol- or server-level failure. Code is a short,
// stable machine-readable label (e.g. "bad_request", "internal_error").
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchFromClientSync extracts the shared Batch shape from a ClientSync.
func BatchFromClientSync(m ClientSync) Batch {
	return Batch{
		SourceVersion: m.SourceVersion,
		TargetVersion: m.TargetVersion,
		Checksum:      m.Checksum,
		Hunks:         m.Hunks,
	}
}

// BatchFromServerSync extracts the shared Batch shape from a ServerSync.
func BatchFromServerSync(m ServerSync) Batch {
	return Batch{
		SourceVersion: m.SourceVersion,
		TargetVersion: m.TargetVersion,
		Checksum:      m.Checksum,
		Hunks:         m.Hunks,
	}
}

// ServerSyncFromBatch wraps a Batch for transmission to a client.
func ServerSyncFromBatch(b Batch) ServerSync {
	return ServerSync{
		SourceVersion: b.SourceVersion,
		TargetVersion: b.TargetVersion,
		Checksum:      b.Checksum,
		Hunks:         b.Hunks,
	}
}

// ClientSyncFromBatch wraps a Batch with a client ID for transmission to
// the server.
func ClientSyncFromBatch(clientID string, b Batch) ClientSync {
	return ClientSync{
		ClientID:      clientID,
		SourceVersion: b.SourceVersion,
		TargetVersion: b.TargetVersion,
		Checksum:      b.Checksum,
		Hunks:         b.Hunks,
	}
}
