package mesh

import "sync"

// PropSchema is a minimal structural schema over a property bag: per-key
// expected ValueKind plus whether the key is required. The schema language
// itself is out of scope (spec.md §1); this is the "validate/adjust an
// object-shaped property bag" surface the spec asks the core to provide.
type PropSchema struct {
	Fields   map[string]ValueKind
	Required []string
}

// Adjust normalises a bag in place against s: integers represented as
// ValueFloat but declared ValueInt are narrowed (and vice versa). Unknown
// fields are left untouched.
func (s *PropSchema) Adjust(bag *Value) error {
	if s == nil || bag == nil || bag.kind != ValueObject {
		return nil
	}
	for key, kind := range s.Fields {
		cur, ok := bag.obj[key]
		if !ok {
			continue
		}
		switch kind {
		case ValueInt:
			if cur.kind == ValueFloat {
				bag.obj[key] = NewInt(int64(cur.f))
			}
		case ValueFloat:
			if cur.kind == ValueInt {
				bag.obj[key] = NewFloat(float64(cur.i))
			}
		}
	}
	return nil
}

// Validate checks bag against s after Adjust would have run, returning a
// KindInvalidArgument error naming the first offending field.
func (s *PropSchema) Validate(bag *Value) error {
	if s == nil {
		return nil
	}
	if bag == nil || bag.kind != ValueObject {
		if len(s.Required) > 0 {
			return NewError(KindInvalidArgument, "property bag is not an object")
		}
		return nil
	}
	for _, req := range s.Required {
		if _, ok := bag.obj[req]; !ok {
			return NewError(KindInvalidArgument, "missing required property %q", req)
		}
	}
	for key, kind := range s.Fields {
		cur, ok := bag.obj[key]
		if !ok {
			continue
		}
		if cur.kind != kind && !(kind == ValueFloat && cur.kind == ValueInt) {
			return NewError(KindInvalidArgument, "property %q: expected %s, got %s", key, kind, cur.kind)
		}
	}
	return nil
}

// MsgSchema binds an optional schema to a message's own properties and, for
// commands, an optional schema for the command's cmd_result properties.
type MsgSchema struct {
	Msg    *PropSchema
	Result *PropSchema
}

// SchemaStore holds MsgSchema entries keyed by message name, plus the set of
// message names an extension has opted out of enforcement for.
type SchemaStore struct {
	mu       sync.RWMutex
	byName   map[string]*MsgSchema
	optedOut map[string]bool
}

// NewSchemaStore returns an empty store.
func NewSchemaStore() *SchemaStore {
	return &SchemaStore{byName: map[string]*MsgSchema{}, optedOut: map[string]bool{}}
}

// Register associates schema with msgName, replacing any prior entry.
func (s *SchemaStore) Register(msgName string, schema *MsgSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[msgName] = schema
}

// SetEnforced toggles whether msgName's schema (if any) is enforced.
func (s *SchemaStore) SetEnforced(msgName string, enforced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optedOut[msgName] = !enforced
}

// Lookup returns the schema registered for msgName, or nil.
func (s *SchemaStore) Lookup(msgName string) *MsgSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[msgName]
}

// ValidateMessage adjusts then validates a message's properties (and, for a
// cmd, leaves result validation to ValidateResult). A no-op if msgName has
// no schema or has been opted out of enforcement.
func (s *SchemaStore) ValidateMessage(msgName string, props *Value) error {
	s.mu.RLock()
	schema, optedOut := s.byName[msgName], s.optedOut[msgName]
	s.mu.RUnlock()
	if schema == nil || schema.Msg == nil || optedOut {
		return nil
	}
	if err := schema.Msg.Adjust(props); err != nil {
		return err
	}
	return schema.Msg.Validate(props)
}

// ValidateResult adjusts then validates a cmd_result's properties against
// the cmd_name's registered result schema.
func (s *SchemaStore) ValidateResult(cmdName string, props *Value) error {
	s.mu.RLock()
	schema, optedOut := s.byName[cmdName], s.optedOut[cmdName]
	s.mu.RUnlock()
	if schema == nil || schema.Result == nil || optedOut {
		return nil
	}
	if err := schema.Result.Adjust(props); err != nil {
		return err
	}
	return schema.Result.Validate(props)
}
