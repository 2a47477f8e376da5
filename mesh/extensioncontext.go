package mesh

import "sync"

// ExtContextState tracks overall graph-start/stop progress across every
// thread the context owns (spec.md §4.7/§4.8).
type ExtContextState int

const (
	ExtContextStateInit ExtContextState = iota
	ExtContextStateStarting
	ExtContextStateRunning
	ExtContextStateStopping
	ExtContextStateClosed
)

// ExtensionContext owns every ExtensionThread (one per extension_group) for
// a single running graph, and tracks the graph-wide start/stop state
// machine spec.md §4.7 and §4.8 describe.
type ExtensionContext struct {
	engine *Engine

	mu      sync.Mutex
	state   ExtContextState
	threads map[string]*ExtensionThread // keyed by group name

	extensionsInfoFromGraph      map[string]*ExtensionInfo
	extensionGroupsInfoFromGraph map[string]*ExtensionGroupInfo

	closedThreads int
	onAllClosed   func()
}

// NewExtensionContext constructs an empty context bound to engine.
func NewExtensionContext(engine *Engine) *ExtensionContext {
	return &ExtensionContext{
		engine:                       engine,
		threads:                      map[string]*ExtensionThread{},
		extensionsInfoFromGraph:      map[string]*ExtensionInfo{},
		extensionGroupsInfoFromGraph: map[string]*ExtensionGroupInfo{},
	}
}

// StartExtensionGroup implements spec.md §4.7.2: create (or reuse) the
// thread for groupName, start it, and hand it factory to create the
// extension instances declared for that group.
func (c *ExtensionContext) StartExtensionGroup(groupName string, infos []*ExtensionInfo, factory func(info *ExtensionInfo) (Handler, error)) error {
	c.mu.Lock()
	c.state = ExtContextStateStarting
	t, ok := c.threads[groupName]
	if !ok {
		t = NewExtensionThread(groupName, c)
		c.threads[groupName] = t
		t.Start()
	}
	c.mu.Unlock()

	for _, info := range infos {
		handler, err := factory(info)
		if err != nil {
			return WrapError(KindGeneric, err, "creating extension %q", info.Loc.ExtensionName)
		}
		info := info
		t.loop.PostTail(func(interface{}) {
			ext := NewExtension(info.Loc.ExtensionName, info.Addon, handler, info.Dests)
			ext.Loc = info.Loc
			if info.Property != nil {
				_ = ext.Props.MergeWithClone(info.Property)
			}
			t.AddExtension(ext)
		}, nil)
	}
	return nil
}

// onThreadClosed is called (on the closing thread's own runloop) once every
// extension on it has finished ON_DEINIT_DONE. Once every thread the
// context owns has reported in, the context itself is fully closed.
func (c *ExtensionContext) onThreadClosed(t *ExtensionThread) {
	c.mu.Lock()
	c.closedThreads++
	allClosed := c.closedThreads >= len(c.threads)
	cb := c.onAllClosed
	if allClosed {
		c.state = ExtContextStateClosed
	}
	c.mu.Unlock()
	t.Stop()
	if allClosed && cb != nil {
		cb()
	}
}

// BeginStop drives every owned thread's extensions through ON_STOP (spec.md
// §4.8). onAllClosed fires once every thread has fully deinitialized.
func (c *ExtensionContext) BeginStop(onAllClosed func()) {
	c.mu.Lock()
	c.state = ExtContextStateStopping
	c.onAllClosed = onAllClosed
	threads := make([]*ExtensionThread, 0, len(c.threads))
	for _, t := range c.threads {
		threads = append(threads, t)
	}
	noThreads := len(threads) == 0
	c.mu.Unlock()

	if noThreads {
		c.mu.Lock()
		c.state = ExtContextStateClosed
		c.mu.Unlock()
		if onAllClosed != nil {
			onAllClosed()
		}
		return
	}
	for _, t := range threads {
		t := t
		t.loop.PostTail(func(interface{}) { t.beginStop() }, nil)
	}
}

// ThreadFor returns the thread owning groupName, if started.
func (c *ExtensionContext) ThreadFor(groupName string) (*ExtensionThread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[groupName]
	return t, ok
}

// DeliverToGroup hands msg to the thread owning the destination group, if
// running locally under this context.
func (c *ExtensionContext) DeliverToGroup(groupName string, msg *Message) bool {
	t, ok := c.ThreadFor(groupName)
	if !ok {
		return false
	}
	t.PostInbound(msg)
	return true
}

// SetGraphInfo records the graph-declaration snapshot this context routes
// against (extensions_info_from_graph / extension_groups_info_from_graph,
// spec.md §3).
func (c *ExtensionContext) SetGraphInfo(exts map[string]*ExtensionInfo, groups map[string]*ExtensionGroupInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extensionsInfoFromGraph = exts
	c.extensionGroupsInfoFromGraph = groups
}

// ExtensionInfoFor looks up a declared extension's graph info by name.
func (c *ExtensionContext) ExtensionInfoFor(name string) (*ExtensionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.extensionsInfoFromGraph[name]
	return info, ok
}

// GroupForExtension returns which group owns the extension named name,
// per the graph declaration.
func (c *ExtensionContext) GroupForExtension(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.extensionsInfoFromGraph[name]
	if !ok {
		return "", false
	}
	return info.Loc.GroupName, true
}
