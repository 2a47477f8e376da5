package mesh

// NodeKind discriminates the two node shapes a start_graph payload declares.
type NodeKind string

const (
	NodeKindExtension      NodeKind = "extension"
	NodeKindExtensionGroup NodeKind = "extension_group"
)

// NodeDecl is one node entry of a start_graph payload (spec.md §6).
type NodeDecl struct {
	Kind            NodeKind
	Name            string
	Addon           string
	ExtensionGroup  string // only meaningful for NodeKindExtension
	Graph           string
	App             string
	Property        *Value
}

// ConversionMode is the mode of a single msg_conversion rule (spec.md §4.10).
type ConversionMode string

const (
	ConversionFromOriginal ConversionMode = "from_original"
	ConversionFixedValue   ConversionMode = "fixed_value"
)

// ConversionRule rewrites one destination property. Path is the property
// path on the outbound message; OriginalPath is consulted for
// ConversionFromOriginal, FixedValue for ConversionFixedValue.
type ConversionRule struct {
	Path         string
	Mode         ConversionMode
	OriginalPath string
	FixedValue   *Value
}

// MsgConversion is the full conversion context attached to one connection
// destination: the rules applied to build the outbound message, plus an
// optional rule set applied to the inbound result before it flows back.
type MsgConversion struct {
	Rules       []ConversionRule
	ResultRules []ConversionRule
}

// DestRule is one (msg name -> destination) routing entry within a
// Connection, with an optional per-edge conversion.
type DestRule struct {
	MsgName    string
	Dest       Location
	Conversion *MsgConversion
}

// Connection is one source-location's routing table, split per message
// kind, as spec.md §6 describes ("per-message-kind arrays of
// destinations").
type Connection struct {
	Src        Location
	Cmd        []DestRule
	Data       []DestRule
	AudioFrame []DestRule
	VideoFrame []DestRule
}

func (c *Connection) rulesFor(kind MsgType) []DestRule {
	switch kind {
	case MsgTypeCmd:
		return c.Cmd
	case MsgTypeData:
		return c.Data
	case MsgTypeAudio:
		return c.AudioFrame
	case MsgTypeVideo:
		return c.VideoFrame
	}
	return nil
}

// GraphDecl is a parsed start_graph payload.
type GraphDecl struct {
	LongRunningMode  bool
	PredefinedGraph  string
	Nodes            []NodeDecl
	Connections      []Connection
}

// ExtensionInfo and ExtensionGroupInfo are the graph-declaration snapshots
// ExtensionContext keeps (extensions_info_from_graph,
// extension_groups_info_from_graph in spec.md §3), used to drive
// destination resolution without the extensions strongly owning each
// other (spec.md §9 "Back-references that would cycle").
type ExtensionInfo struct {
	Loc        Location
	Addon      string
	Property   *Value
	Dests      map[MsgType][]DestRule // this extension's outbound routing table
}

type ExtensionGroupInfo struct {
	Loc   Location // GroupName carried in ExtensionName-less Location
	Addon string
}

// validate checks the parse-time invariants spec.md §6 requires: every node
// referenced in connections is declared, node names are unique within
// (app, graph, group), and a node declared twice must agree on addon.
func (g *GraphDecl) validate() error {
	seen := map[string]NodeDecl{}
	for _, n := range g.Nodes {
		key := n.App + "/" + n.Graph + "/" + n.ExtensionGroup + "/" + n.Name
		if prev, ok := seen[key]; ok {
			if prev.Addon != n.Addon {
				return NewError(KindInvalidGraph, "node %q redeclared with conflicting addon %q != %q", key, n.Addon, prev.Addon)
			}
			continue
		}
		seen[key] = n
	}
	declared := map[string]bool{}
	for _, n := range g.Nodes {
		if n.Kind == NodeKindExtension {
			declared[n.App+"/"+n.Graph+"/"+n.ExtensionGroup+"/"+n.Name] = true
		}
	}
	for _, c := range g.Connections {
		for _, kindRules := range [][]DestRule{c.Cmd, c.Data, c.AudioFrame, c.VideoFrame} {
			for _, r := range kindRules {
				key := r.Dest.AppURI + "/" + r.Dest.GraphID + "/" + r.Dest.GroupName + "/" + r.Dest.ExtensionName
				if r.Dest.ExtensionName != "" && !declared[key] {
					return NewError(KindInvalidGraph, "connection references undeclared node %q", key)
				}
			}
		}
	}
	return nil
}

// synthesizeDefaultGroups implements spec.md §4.7.1: any extension node
// referencing a group not present among the declared extension_group nodes
// gets a synthesised group node addon-named "default_extension_group".
const DefaultExtensionGroupAddon = "default_extension_group"

func (g *GraphDecl) synthesizeDefaultGroups() {
	declaredGroups := map[string]bool{}
	for _, n := range g.Nodes {
		if n.Kind == NodeKindExtensionGroup {
			declaredGroups[n.App+"/"+n.Graph+"/"+n.Name] = true
		}
	}
	needed := map[string]NodeDecl{}
	for _, n := range g.Nodes {
		if n.Kind != NodeKindExtension {
			continue
		}
		key := n.App + "/" + n.Graph + "/" + n.ExtensionGroup
		if declaredGroups[key] {
			continue
		}
		needed[key] = NodeDecl{
			Kind: NodeKindExtensionGroup,
			Name: n.ExtensionGroup,
			Addon: DefaultExtensionGroupAddon,
			Graph: n.Graph,
			App:   n.App,
		}
	}
	for _, decl := range needed {
		g.Nodes = append(g.Nodes, decl)
	}
}

// immediateConnectableApps returns the set of app URIs, other than selfURI,
// that this graph's nodes mention (spec.md §4.6/§4.7 "immediate connectable
// apps").
func (g *GraphDecl) immediateConnectableApps(selfURI string) []string {
	set := map[string]bool{}
	for _, n := range g.Nodes {
		app := n.App
		if app == "" || app == LocalhostURI {
			app = selfURI
		}
		if app != selfURI {
			set[app] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}
