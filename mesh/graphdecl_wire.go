package mesh

import "encoding/json"

// The wire* types mirror a start_graph payload's on-the-wire shape (spec.md
// §6): plain JSON, reusing codec.go's wireLocation so a Location's four
// segments serialize identically whether they sit in a message envelope or
// inside a graph declaration's connections.

type wireNodeDecl struct {
	Kind           string          `json:"type"`
	Name           string          `json:"name"`
	Addon          string          `json:"addon"`
	ExtensionGroup string          `json:"extension_group,omitempty"`
	Graph          string          `json:"graph,omitempty"`
	App            string          `json:"app,omitempty"`
	Property       json.RawMessage `json:"property,omitempty"`
}

type wireConversionRule struct {
	Path         string          `json:"path"`
	Mode         string          `json:"conversion_mode"`
	OriginalPath string          `json:"original_path,omitempty"`
	FixedValue   json.RawMessage `json:"fixed_value,omitempty"`
}

type wireMsgConversion struct {
	Rules       []wireConversionRule `json:"rules,omitempty"`
	ResultRules []wireConversionRule `json:"result,omitempty"`
}

type wireDestRule struct {
	MsgName    string             `json:"msg_name,omitempty"`
	Dest       wireLocation       `json:"dest"`
	Conversion *wireMsgConversion `json:"msg_conversion,omitempty"`
}

type wireConnection struct {
	Src        wireLocation   `json:"src"`
	Cmd        []wireDestRule `json:"cmd,omitempty"`
	Data       []wireDestRule `json:"data,omitempty"`
	AudioFrame []wireDestRule `json:"audio_frame,omitempty"`
	VideoFrame []wireDestRule `json:"video_frame,omitempty"`
}

type wireGraphDecl struct {
	LongRunningMode bool             `json:"long_running_mode,omitempty"`
	PredefinedGraph string           `json:"predefined_graph,omitempty"`
	Nodes           []wireNodeDecl   `json:"nodes,omitempty"`
	Connections     []wireConnection `json:"connections,omitempty"`
}

func toWireConversion(c *MsgConversion) (*wireMsgConversion, error) {
	if c == nil {
		return nil, nil
	}
	wc := &wireMsgConversion{}
	for _, r := range c.Rules {
		wr, err := toWireConversionRule(r)
		if err != nil {
			return nil, err
		}
		wc.Rules = append(wc.Rules, wr)
	}
	for _, r := range c.ResultRules {
		wr, err := toWireConversionRule(r)
		if err != nil {
			return nil, err
		}
		wc.ResultRules = append(wc.ResultRules, wr)
	}
	return wc, nil
}

func toWireConversionRule(r ConversionRule) (wireConversionRule, error) {
	wr := wireConversionRule{Path: r.Path, Mode: string(r.Mode), OriginalPath: r.OriginalPath}
	if r.FixedValue != nil {
		raw, err := r.FixedValue.ToJSON()
		if err != nil {
			return wireConversionRule{}, err
		}
		wr.FixedValue = raw
	}
	return wr, nil
}

func fromWireConversion(wc *wireMsgConversion) (*MsgConversion, error) {
	if wc == nil {
		return nil, nil
	}
	c := &MsgConversion{}
	for _, wr := range wc.Rules {
		r, err := fromWireConversionRule(wr)
		if err != nil {
			return nil, err
		}
		c.Rules = append(c.Rules, r)
	}
	for _, wr := range wc.ResultRules {
		r, err := fromWireConversionRule(wr)
		if err != nil {
			return nil, err
		}
		c.ResultRules = append(c.ResultRules, r)
	}
	return c, nil
}

func fromWireConversionRule(wr wireConversionRule) (ConversionRule, error) {
	r := ConversionRule{Path: wr.Path, Mode: ConversionMode(wr.Mode), OriginalPath: wr.OriginalPath}
	if len(wr.FixedValue) > 0 {
		val, err := FromJSON(wr.FixedValue)
		if err != nil {
			return ConversionRule{}, err
		}
		r.FixedValue = val
	}
	return r, nil
}

func toWireDestRules(rules []DestRule) ([]wireDestRule, error) {
	var out []wireDestRule
	for _, r := range rules {
		conv, err := toWireConversion(r.Conversion)
		if err != nil {
			return nil, err
		}
		out = append(out, wireDestRule{MsgName: r.MsgName, Dest: toWireLoc(r.Dest), Conversion: conv})
	}
	return out, nil
}

func fromWireDestRules(rules []wireDestRule) ([]DestRule, error) {
	var out []DestRule
	for _, wr := range rules {
		conv, err := fromWireConversion(wr.Conversion)
		if err != nil {
			return nil, err
		}
		out = append(out, DestRule{MsgName: wr.MsgName, Dest: fromWireLoc(wr.Dest), Conversion: conv})
	}
	return out, nil
}

// ToValue serialises g the way a start_graph command carries it over the
// wire (spec.md §6), for propagating a graph to another app as a child
// start_graph's properties.
func (g *GraphDecl) ToValue() (*Value, error) {
	w := wireGraphDecl{LongRunningMode: g.LongRunningMode, PredefinedGraph: g.PredefinedGraph}
	for _, n := range g.Nodes {
		wn := wireNodeDecl{Kind: string(n.Kind), Name: n.Name, Addon: n.Addon, ExtensionGroup: n.ExtensionGroup, Graph: n.Graph, App: n.App}
		if n.Property != nil {
			raw, err := n.Property.ToJSON()
			if err != nil {
				return nil, WrapError(KindInvalidJSON, err, "encoding node %q property", n.Name)
			}
			wn.Property = raw
		}
		w.Nodes = append(w.Nodes, wn)
	}
	for _, c := range g.Connections {
		wc := wireConnection{Src: toWireLoc(c.Src)}
		var err error
		if wc.Cmd, err = toWireDestRules(c.Cmd); err != nil {
			return nil, err
		}
		if wc.Data, err = toWireDestRules(c.Data); err != nil {
			return nil, err
		}
		if wc.AudioFrame, err = toWireDestRules(c.AudioFrame); err != nil {
			return nil, err
		}
		if wc.VideoFrame, err = toWireDestRules(c.VideoFrame); err != nil {
			return nil, err
		}
		w.Connections = append(w.Connections, wc)
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, WrapError(KindInvalidJSON, err, "encoding graph declaration")
	}
	return FromJSON(raw)
}

// GraphDeclFromValue parses a start_graph command's properties back into a
// GraphDecl, the receiving side of ToValue.
func GraphDeclFromValue(v *Value) (*GraphDecl, error) {
	raw, err := v.ToJSON()
	if err != nil {
		return nil, WrapError(KindInvalidJSON, err, "encoding graph declaration properties")
	}
	var w wireGraphDecl
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, WrapError(KindInvalidJSON, err, "decoding graph declaration")
	}
	g := &GraphDecl{LongRunningMode: w.LongRunningMode, PredefinedGraph: w.PredefinedGraph}
	for _, wn := range w.Nodes {
		n := NodeDecl{Kind: NodeKind(wn.Kind), Name: wn.Name, Addon: wn.Addon, ExtensionGroup: wn.ExtensionGroup, Graph: wn.Graph, App: wn.App}
		if len(wn.Property) > 0 {
			val, err := FromJSON(wn.Property)
			if err != nil {
				return nil, WrapError(KindInvalidJSON, err, "decoding node %q property", wn.Name)
			}
			n.Property = val
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, wc := range w.Connections {
		c := Connection{Src: fromWireLoc(wc.Src)}
		if c.Cmd, err = fromWireDestRules(wc.Cmd); err != nil {
			return nil, err
		}
		if c.Data, err = fromWireDestRules(wc.Data); err != nil {
			return nil, err
		}
		if c.AudioFrame, err = fromWireDestRules(wc.AudioFrame); err != nil {
			return nil, err
		}
		if c.VideoFrame, err = fromWireDestRules(wc.VideoFrame); err != nil {
			return nil, err
		}
		g.Connections = append(g.Connections, c)
	}
	return g, nil
}
