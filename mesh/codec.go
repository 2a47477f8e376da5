package mesh

import "encoding/json"

// Codec turns a Message into a wire frame and back. JSONCodec is the only
// shipped implementation; it is exported as an interface so a future
// binding layer can swap it without touching Remote.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(frame []byte) (*Message, error)
}

// wireMessage is the `_ten`-namespaced envelope spec.md §6 describes: a
// discriminated union keyed by "_ten_type", flattened enough that a non-Go peer
// (the system this runtime's wire format is modeled on) could decode it.
type wireMessage struct {
	Type        string          `json:"_ten_type"`
	Name        string          `json:"name,omitempty"`
	Src         wireLocation    `json:"src"`
	Dest        []wireLocation  `json:"dest,omitempty"`
	Props       json.RawMessage `json:"properties,omitempty"`
	CmdID       string          `json:"cmd_id,omitempty"`
	ParentCmdID string          `json:"parent_cmd_id,omitempty"`
	Status      string          `json:"status,omitempty"`
}

type wireLocation struct {
	App       string `json:"app,omitempty"`
	Graph     string `json:"graph,omitempty"`
	Group     string `json:"extension_group,omitempty"`
	Extension string `json:"extension,omitempty"`
}

func toWireLoc(l Location) wireLocation {
	return wireLocation{App: l.AppURI, Graph: l.GraphID, Group: l.GroupName, Extension: l.ExtensionName}
}

func fromWireLoc(w wireLocation) Location {
	return Location{AppURI: w.App, GraphID: w.Graph, GroupName: w.Group, ExtensionName: w.Extension}
}

// JSONCodec implements Codec using encoding/json over the wireMessage
// envelope.
type JSONCodec struct{}

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	w := wireMessage{
		Type:        string(msg.Type),
		Name:        msg.Name,
		Src:         toWireLoc(msg.Src),
		CmdID:       msg.CmdID,
		ParentCmdID: msg.ParentCmdID,
	}
	for _, d := range msg.Dest {
		w.Dest = append(w.Dest, toWireLoc(d))
	}
	if msg.Type == MsgTypeCmdResult {
		if msg.Status == StatusOK {
			w.Status = "ok"
		} else {
			w.Status = "error"
		}
	}
	if msg.Props != nil {
		raw, err := msg.Props.ToJSON()
		if err != nil {
			return nil, WrapError(KindInvalidJSON, err, "encoding properties of %q", msg.Name)
		}
		w.Props = raw
	}
	return json.Marshal(w)
}

func (JSONCodec) Decode(frame []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, WrapError(KindInvalidJSON, err, "decoding wire frame")
	}
	msg := &Message{
		Type:        MsgType(w.Type),
		Name:        w.Name,
		Src:         fromWireLoc(w.Src),
		CmdID:       w.CmdID,
		ParentCmdID: w.ParentCmdID,
	}
	for _, d := range w.Dest {
		msg.Dest = append(msg.Dest, fromWireLoc(d))
	}
	if w.Status == "error" {
		msg.Status = StatusError
	} else {
		msg.Status = StatusOK
	}
	if len(w.Props) > 0 {
		val, err := FromJSON(w.Props)
		if err != nil {
			return nil, WrapError(KindInvalidJSON, err, "decoding properties of %q", w.Name)
		}
		msg.Props = val
	} else {
		msg.Props = NewObject()
	}
	return msg, nil
}
