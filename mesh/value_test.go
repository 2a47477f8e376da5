package mesh

import "testing"

func TestValueGetSet(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "set then get a nested path",
			run: func(t *testing.T) {
				obj := NewObject()
				if err := obj.Set("a.b", NewString("hi")); err != nil {
					t.Fatalf("Set: %v", err)
				}
				v, ok := obj.Get("a.b")
				if !ok {
					t.Fatal("Get: not found")
				}
				s, _ := v.AsString()
				if s != "hi" {
					t.Errorf("got %q, want %q", s, "hi")
				}
			},
		},
		{
			name: "array index path",
			run: func(t *testing.T) {
				obj := NewObject()
				if err := obj.Set("items[2]", NewInt(7)); err != nil {
					t.Fatalf("Set: %v", err)
				}
				v, ok := obj.Get("items[2]")
				if !ok {
					t.Fatal("Get: not found")
				}
				i, _ := v.AsInt()
				if i != 7 {
					t.Errorf("got %d, want 7", i)
				}
				if v0, ok := obj.Get("items[0]"); !ok || v0.Kind() != ValueNull {
					t.Errorf("expected filler null at items[0]")
				}
			},
		},
		{
			name: "missing path returns false",
			run: func(t *testing.T) {
				obj := NewObject()
				if _, ok := obj.Get("nope.nothing"); ok {
					t.Error("expected missing path to report false")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.run)
	}
}

func TestValueCloneIsIndependent(t *testing.T) {
	orig := NewObject()
	orig.Set("x", NewInt(1))
	cp := orig.Clone()
	cp.Set("x", NewInt(2))

	origVal, _ := orig.Get("x")
	cpVal, _ := cp.Get("x")
	origI, _ := origVal.AsInt()
	cpI, _ := cpVal.AsInt()
	if origI != 1 {
		t.Errorf("original mutated: got %d, want 1", origI)
	}
	if cpI != 2 {
		t.Errorf("clone not updated: got %d, want 2", cpI)
	}
}

func TestValueMergeWithClone(t *testing.T) {
	base := NewObject()
	base.Set("a", NewInt(1))
	base.Set("nested.keep", NewString("kept"))

	incoming := NewObject()
	incoming.Set("b", NewInt(2))
	incoming.Set("nested.add", NewString("added"))

	if err := base.MergeWithClone(incoming); err != nil {
		t.Fatalf("MergeWithClone: %v", err)
	}

	if v, ok := base.Get("a"); !ok {
		t.Error("expected 'a' to survive merge")
	} else if i, _ := v.AsInt(); i != 1 {
		t.Errorf("a = %d, want 1", i)
	}
	if v, ok := base.Get("b"); !ok {
		t.Error("expected 'b' to be merged in")
	} else if i, _ := v.AsInt(); i != 2 {
		t.Errorf("b = %d, want 2", i)
	}
	if v, ok := base.Get("nested.keep"); !ok {
		t.Error("expected nested.keep to survive merge")
	} else if s, _ := v.AsString(); s != "kept" {
		t.Errorf("nested.keep = %q, want %q", s, "kept")
	}
	if v, ok := base.Get("nested.add"); !ok {
		t.Error("expected nested.add to be merged in")
	} else if s, _ := v.AsString(); s != "added" {
		t.Errorf("nested.add = %q, want %q", s, "added")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	obj := NewObject()
	obj.Set("name", NewString("echo"))
	obj.Set("count", NewInt(3))
	obj.Set("ratio", NewFloat(1.5))
	obj.Set("ok", NewBool(true))

	raw, err := obj.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if v, ok := back.Get("name"); !ok {
		t.Fatal("missing name after round-trip")
	} else if s, _ := v.AsString(); s != "echo" {
		t.Errorf("name = %q, want %q", s, "echo")
	}
	if v, ok := back.Get("count"); !ok {
		t.Fatal("missing count after round-trip")
	} else if i, _ := v.AsInt(); i != 3 {
		t.Errorf("count = %d, want 3", i)
	}
}

func TestPropSchemaValidate(t *testing.T) {
	schema := &PropSchema{
		Fields:   map[string]ValueKind{"name": ValueString, "age": ValueInt},
		Required: []string{"name"},
	}

	tests := []struct {
		name    string
		bag     *Value
		wantErr bool
	}{
		{
			name:    "valid bag",
			bag:     func() *Value { v := NewObject(); v.Set("name", NewString("a")); return v }(),
			wantErr: false,
		},
		{
			name:    "missing required field",
			bag:     NewObject(),
			wantErr: true,
		},
		{
			name: "wrong type for declared field",
			bag: func() *Value {
				v := NewObject()
				v.Set("name", NewString("a"))
				v.Set("age", NewString("not a number"))
				return v
			}(),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.bag)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPropSchemaAdjustNarrowsFloatToInt(t *testing.T) {
	schema := &PropSchema{Fields: map[string]ValueKind{"count": ValueInt}}
	bag := NewObject()
	bag.Set("count", NewFloat(5))
	if err := schema.Adjust(bag); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	v, _ := bag.Get("count")
	if v.Kind() != ValueInt {
		t.Errorf("kind = %v, want ValueInt", v.Kind())
	}
}
