package mesh

import "github.com/google/uuid"

// MsgType is the envelope's message type discriminator.
type MsgType string

const (
	MsgTypeCmd       MsgType = "cmd"
	MsgTypeCmdResult MsgType = "cmd_result"
	MsgTypeData      MsgType = "data"
	MsgTypeAudio     MsgType = "audio_frame"
	MsgTypeVideo     MsgType = "video_frame"
)

// Built-in command/message names.
const (
	CmdStartGraph = "start_graph"
	CmdStopGraph  = "stop_graph"
	CmdCloseApp   = "close_app"
	MsgTimeout    = "timeout"
	MsgTimer      = "timer"
)

// StatusCode is the outcome carried by a cmd_result.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusError
)

// Message is a reference-counted (in Go: simply shared via pointer, GC'd)
// envelope: {type, name, src, dest[], properties, locked resources,
// command-id}. Dest is an ordered list but by the time a Message reaches
// Engine.routeOutbound exactly one destination remains (spec.md "Message"
// invariant).
type Message struct {
	Type       MsgType
	Name       string
	Src        Location
	Dest       []Location
	Props      *Value
	LockedRes  []string
	CmdID      string
	ParentCmdID string
	Status     StatusCode // meaningful only for MsgTypeCmdResult

	srcStamped bool
}

// NewCmd builds a command message. The command-id is assigned lazily at
// first dispatch if left empty here.
func NewCmd(name string) *Message {
	return &Message{Type: MsgTypeCmd, Name: name, Props: NewObject()}
}

// NewData builds a data-kind message (data/audio_frame/video_frame never
// carry a command-id).
func NewData(kind MsgType, name string) *Message {
	return &Message{Type: kind, Name: name, Props: NewObject()}
}

// NewCmdResult builds a cmd_result replying to cmdID with the given status.
func NewCmdResult(cmdName string, cmdID string, status StatusCode) *Message {
	return &Message{Type: MsgTypeCmdResult, Name: cmdName, CmdID: cmdID, Status: status, Props: NewObject()}
}

// IsCommand reports whether m is a cmd or cmd_result, i.e. carries a
// command-id and participates in path-table correlation.
func (m *Message) IsCommand() bool {
	return m.Type == MsgTypeCmd || m.Type == MsgTypeCmdResult
}

// EnsureCmdID assigns a fresh uuid4 command-id if m is a command without
// one yet. Mirrors "if absent, one is generated at first dispatch."
func (m *Message) EnsureCmdID() {
	if m.IsCommand() && m.CmdID == "" {
		m.CmdID = uuid.NewString()
	}
}

// Clone returns a deep copy of m with a fresh command-id; the original's
// command-id is preserved as ParentCmdID, establishing the provenance chain
// message-conversion and path correlation rely on (spec.md "Command-id
// rule").
func (m *Message) Clone() *Message {
	cp := &Message{
		Type:       m.Type,
		Name:       m.Name,
		Src:        m.Src,
		Dest:       append([]Location(nil), m.Dest...),
		Props:      m.Props.Clone(),
		LockedRes:  append([]string(nil), m.LockedRes...),
		Status:     m.Status,
		srcStamped: m.srcStamped,
	}
	if m.IsCommand() {
		cp.CmdID = uuid.NewString()
		if m.CmdID != "" {
			cp.ParentCmdID = m.CmdID
		} else {
			cp.ParentCmdID = m.ParentCmdID
		}
	}
	return cp
}

// SetSrcTo stamps the source location, but only once per app-boundary
// crossing: a non-empty AppURI already present is never overwritten, so a
// message retains the provenance of the app it originated from as it
// transits intermediate apps.
func (m *Message) SetSrcTo(loc Location) {
	if m.srcStamped && m.Src.AppURI != "" {
		return
	}
	m.Src = loc
	m.srcStamped = true
}

// ClearAndSetDest atomically replaces the destination list.
func (m *Message) ClearAndSetDest(dests ...Location) {
	m.Dest = append([]Location(nil), dests...)
}

// SoleDest returns the single remaining destination, as required at
// Engine.routeOutbound time (spec.md "Message" invariant: dest_cnt == 1).
func (m *Message) SoleDest() (Location, bool) {
	if len(m.Dest) != 1 {
		return Location{}, false
	}
	return m.Dest[0], true
}
