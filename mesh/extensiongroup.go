package mesh

// GroupState is an ExtensionGroup addon's own lifecycle (spec.md §3),
// distinct from the ExtensionThread it backs.
type GroupState int

const (
	GroupStateInit GroupState = iota
	GroupStateDeiniting
	GroupStateDeinitted
)

// ExtensionGroupHandler is the optional factory hook an extension_group
// addon can implement to control how its member extensions are created and
// torn down, instead of the runtime creating them directly from the graph
// declaration. default_extension_group (spec.md §4.7.1's synthesized
// group) implements neither hook, so the runtime's direct-from-declaration
// path is used.
type ExtensionGroupHandler interface {
	// OnCreateExtensions is given the declared members of the group and
	// returns the Handler to use for each; a nil entry for a name falls
	// back to resolving that extension's own addon normally.
	OnCreateExtensions(members []*ExtensionInfo) map[string]Handler

	// OnDestroyExtensions is called once every member has reached
	// ON_DEINIT_DONE, before the group addon itself is torn down.
	OnDestroyExtensions()
}

// ExtensionGroup records one running extension_group's addon identity and
// state; the extensions themselves live on the ExtensionThread it shares
// its name with.
type ExtensionGroup struct {
	Name      string
	AddonName string
	Loc       Location
	state     GroupState
	handler   ExtensionGroupHandler // nil for default_extension_group
}

// NewExtensionGroup constructs a group record. handler may be nil.
func NewExtensionGroup(name, addonName string, loc Location, handler ExtensionGroupHandler) *ExtensionGroup {
	return &ExtensionGroup{Name: name, AddonName: addonName, Loc: loc, handler: handler, state: GroupStateInit}
}

// State returns the group's current lifecycle state.
func (g *ExtensionGroup) State() GroupState { return g.state }

// beginDeinit marks the group deiniting; called once its thread starts
// ON_STOP across every member (spec.md §4.8).
func (g *ExtensionGroup) beginDeinit() {
	g.state = GroupStateDeiniting
	if g.handler != nil {
		g.handler.OnDestroyExtensions()
	}
	g.state = GroupStateDeinitted
}

// registerDefaultExtensionGroupAddon wires DefaultExtensionGroupAddon into
// reg so every graph can rely on it existing without the embedding caller
// registering it explicitly (spec.md §4.7.1: the synthesized group must
// resolve to something).
func registerDefaultExtensionGroupAddon(reg *Registry) {
	_ = reg.ExtensionGroups.Register(&Addon{
		Name: DefaultExtensionGroupAddon,
		OnCreateInstance: func(instanceName string, cb func(instance interface{}, err error)) {
			cb(struct{}{}, nil) // default group has no custom handler
		},
	})
}
