package mesh

import "strings"

// LocalhostURI addresses the owning app: Engine.routeOutbound treats a
// destination carrying it as local, and ResolveLocalhost rewrites it to a
// given URI. Routing does not rewrite it; the Location keeps "localhost".
const LocalhostURI = "localhost"

// Location addresses an app, a graph within it, an extension group within
// that graph, and an extension within that group. Any trailing segment may
// be empty, which is a wildcard: an empty ExtensionName addresses the
// engine or app, an empty GraphID addresses the app.
type Location struct {
	AppURI        string
	GraphID       string
	GroupName     string
	ExtensionName string
}

// IsAppWildcard reports whether this location addresses the app as a whole
// (no graph selected).
func (l Location) IsAppWildcard() bool { return l.GraphID == "" }

// IsEngineWildcard reports whether this location addresses the engine as a
// whole (graph selected, no group/extension).
func (l Location) IsEngineWildcard() bool { return l.GraphID != "" && l.GroupName == "" }

// IsGroupWildcard reports whether this location addresses an extension
// group as a whole (no specific extension named).
func (l Location) IsGroupWildcard() bool {
	return l.GraphID != "" && l.GroupName != "" && l.ExtensionName == ""
}

// ResolveLocalhost rewrites an AppURI of LocalhostURI to ownerURI. It is a
// no-op for any other URI, including an already-empty one.
func (l Location) ResolveLocalhost(ownerURI string) Location {
	if l.AppURI == LocalhostURI {
		l.AppURI = ownerURI
	}
	return l
}

// SameApp reports whether two locations address the same app.
func (l Location) SameApp(o Location) bool { return l.AppURI == o.AppURI }

// SameGraph reports whether two locations address the same app and graph.
func (l Location) SameGraph(o Location) bool { return l.SameApp(o) && l.GraphID == o.GraphID }

// String renders a location as "app_uri/graph_id/group_name/extension_name",
// omitting empty trailing segments.
func (l Location) String() string {
	parts := []string{l.AppURI, l.GraphID, l.GroupName, l.ExtensionName}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "/")
}

// Empty reports whether every segment is the empty string.
func (l Location) Empty() bool {
	return l.AppURI == "" && l.GraphID == "" && l.GroupName == "" && l.ExtensionName == ""
}
