package mesh

import "sync"

// AddonStoreKind names one of the four addon registries spec.md §2/§4.9
// calls for.
type AddonStoreKind string

const (
	AddonStoreExtension      AddonStoreKind = "extension"
	AddonStoreExtensionGroup AddonStoreKind = "extension_group"
	AddonStoreProtocol       AddonStoreKind = "protocol"
	AddonStoreAddonLoader    AddonStoreKind = "addon_loader"
)

// Addon is a named factory record: five callbacks, of which only
// OnCreateInstance is mandatory. OnInit/OnDeinit run once for the addon
// itself (not per instance); OnCreateInstance/OnDestroyInstance run per
// instance; OnDestroy tears down the addon record itself on unregister.
type Addon struct {
	Name string

	OnInit           func() error
	OnDeinit         func() error
	OnCreateInstance func(instanceName string, cb func(instance interface{}, err error))
	OnDestroyInstance func(instance interface{})
	OnDestroy        func()
}

// AddonStore is one name-keyed factory store. Registration is idempotent
// per name: a second Register for the same name replaces the first
// (spec.md §4.9).
type AddonStore struct {
	ThreadChecked
	kind AddonStoreKind

	mu      sync.RWMutex
	addons  map[string]*Addon
	loaders []*Addon // AddonStoreAddonLoader entries, tried in registration order
}

// NewAddonStore constructs an empty store of the given kind.
func NewAddonStore(kind AddonStoreKind) *AddonStore {
	return &AddonStore{kind: kind, addons: map[string]*Addon{}}
}

// Register adds or replaces the addon named a.Name.
func (s *AddonStore) Register(a *Addon) error {
	if a == nil || a.Name == "" {
		return NewError(KindInvalidArgument, "addon must have a non-empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.addons[a.Name]; ok && prev.OnDestroy != nil {
		prev.OnDestroy()
	}
	s.addons[a.Name] = a
	if s.kind == AddonStoreAddonLoader {
		replaced := false
		for i, l := range s.loaders {
			if l.Name == a.Name {
				s.loaders[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			s.loaders = append(s.loaders, a)
		}
	}
	if a.OnInit != nil {
		if err := a.OnInit(); err != nil {
			return WrapError(KindGeneric, err, "addon %q on_init failed", a.Name)
		}
	}
	return nil
}

// Unregister removes the addon named name, invoking its OnDestroy if set.
func (s *AddonStore) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addons[name]
	if !ok {
		return
	}
	if a.OnDeinit != nil {
		_ = a.OnDeinit()
	}
	if a.OnDestroy != nil {
		a.OnDestroy()
	}
	delete(s.addons, name)
	for i, l := range s.loaders {
		if l.Name == name {
			s.loaders = append(s.loaders[:i], s.loaders[i+1:]...)
			break
		}
	}
}

// Find looks up name directly, without consulting addon-loaders.
func (s *AddonStore) Find(name string) (*Addon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addons[name]
	return a, ok
}

// DelAll clears the store, invoking every addon's OnDestroy.
func (s *AddonStore) DelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.addons {
		if a.OnDestroy != nil {
			a.OnDestroy()
		}
	}
	s.addons = map[string]*Addon{}
	s.loaders = nil
}

// CreateInstanceAsync implements spec.md §4.9's asynchronous instantiation
// protocol: look up the addon by name; if missing, try every registered
// addon-loader in order; if still missing, surface NotFound via cb.
// Loaders is the AddonStoreAddonLoader store to consult on a miss (pass nil
// to skip the loader fallback, e.g. for the addon-loader store itself).
func (s *AddonStore) CreateInstanceAsync(loaders *AddonStore, addonName, instanceName string, cb func(instance interface{}, err error)) {
	s.mu.RLock()
	a, ok := s.addons[addonName]
	s.mu.RUnlock()

	if ok {
		a.OnCreateInstance(instanceName, cb)
		return
	}

	if loaders == nil {
		cb(nil, NewError(KindNotFound, "no %s addon named %q", s.kind, addonName))
		return
	}

	loaders.mu.RLock()
	candidates := append([]*Addon(nil), loaders.loaders...)
	loaders.mu.RUnlock()

	s.tryLoaders(candidates, 0, addonName, instanceName, cb)
}

func (s *AddonStore) tryLoaders(candidates []*Addon, i int, addonName, instanceName string, cb func(instance interface{}, err error)) {
	if i >= len(candidates) {
		cb(nil, NewError(KindNotFound, "no %s addon named %q (no loader resolved it)", s.kind, addonName))
		return
	}
	candidates[i].OnCreateInstance(instanceName, func(instance interface{}, err error) {
		if err == nil && instance != nil {
			cb(instance, nil)
			return
		}
		s.tryLoaders(candidates, i+1, addonName, instanceName, cb)
	})
}

// Registry bundles the four addon stores an App owns.
type Registry struct {
	Extensions      *AddonStore
	ExtensionGroups *AddonStore
	Protocols       *AddonStore
	AddonLoaders    *AddonStore
}

// NewRegistry constructs the four stores, with default_extension_group
// pre-registered (spec.md §4.7.1).
func NewRegistry() *Registry {
	r := &Registry{
		Extensions:      NewAddonStore(AddonStoreExtension),
		ExtensionGroups: NewAddonStore(AddonStoreExtensionGroup),
		Protocols:       NewAddonStore(AddonStoreProtocol),
		AddonLoaders:    NewAddonStore(AddonStoreAddonLoader),
	}
	registerDefaultExtensionGroupAddon(r)
	return r
}
