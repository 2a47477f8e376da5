package mesh

import "testing"

func TestApplyConversionNilIsAnIndependentClone(t *testing.T) {
	original := NewCmd("ping")
	original.CmdID = "cmd-1"
	original.Props.Set("echo", NewString("hi"))

	out, err := ApplyConversion(nil, original)
	if err != nil {
		t.Fatalf("ApplyConversion: %v", err)
	}
	if out == original {
		t.Fatal("expected ApplyConversion to return a distinct message, not alias original")
	}
	if out.CmdID != original.CmdID {
		t.Errorf("CmdID = %q, want %q", out.CmdID, original.CmdID)
	}

	// Mutating one must not affect the other: this is what guards against
	// destination-list aliasing when sendFromExtension fans the same
	// original message out to several destinations.
	out.Dest = []Location{{ExtensionName: "only-out"}}
	if len(original.Dest) != 0 {
		t.Errorf("mutating out.Dest affected original.Dest: %v", original.Dest)
	}
}

func TestApplyConversionFromOriginal(t *testing.T) {
	original := NewCmd("ping")
	original.Props.Set("nested.value", NewString("payload"))

	conv := &MsgConversion{
		Rules: []ConversionRule{
			{Path: "renamed", Mode: ConversionFromOriginal, OriginalPath: "nested.value"},
		},
	}

	out, err := ApplyConversion(conv, original)
	if err != nil {
		t.Fatalf("ApplyConversion: %v", err)
	}
	v, ok := out.Props.Get("renamed")
	if !ok {
		t.Fatal("expected 'renamed' property on converted message")
	}
	if s, _ := v.AsString(); s != "payload" {
		t.Errorf("renamed = %q, want %q", s, "payload")
	}
	if _, ok := out.Props.Get("nested.value"); ok {
		t.Error("expected conversion to replace the bag entirely, not merge")
	}
}

func TestApplyConversionFromOriginalMissingPathErrors(t *testing.T) {
	original := NewCmd("ping")
	conv := &MsgConversion{
		Rules: []ConversionRule{{Path: "x", Mode: ConversionFromOriginal, OriginalPath: "absent"}},
	}
	if _, err := ApplyConversion(conv, original); err == nil {
		t.Fatal("expected an error for a from_original rule referencing a missing path")
	}
}

func TestApplyConversionFixedValue(t *testing.T) {
	original := NewCmd("ping")
	conv := &MsgConversion{
		Rules: []ConversionRule{{Path: "mode", Mode: ConversionFixedValue, FixedValue: NewString("constant")}},
	}
	out, err := ApplyConversion(conv, original)
	if err != nil {
		t.Fatalf("ApplyConversion: %v", err)
	}
	v, ok := out.Props.Get("mode")
	if !ok {
		t.Fatal("expected 'mode' property")
	}
	if s, _ := v.AsString(); s != "constant" {
		t.Errorf("mode = %q, want %q", s, "constant")
	}
}

func TestApplyResultConversionNoRulesIsNoOp(t *testing.T) {
	result := NewCmdResult("ping", "cmd-1", StatusOK)
	out := ApplyResultConversion(nil, result)
	if out != result {
		t.Error("expected a nil conversion to return the same result pointer unchanged")
	}
}

func TestApplyResultConversionAppliesResultRules(t *testing.T) {
	result := NewCmdResult("ping", "cmd-1", StatusOK)
	result.Props.Set("echo", NewString("original"))

	conv := &MsgConversion{
		ResultRules: []ConversionRule{{Path: "echoed", Mode: ConversionFromOriginal, OriginalPath: "echo"}},
	}
	out := ApplyResultConversion(conv, result)
	v, ok := out.Props.Get("echoed")
	if !ok {
		t.Fatal("expected 'echoed' property on converted result")
	}
	if s, _ := v.AsString(); s != "original" {
		t.Errorf("echoed = %q, want %q", s, "original")
	}
}

func TestAsResultConversionNilForEmptyRules(t *testing.T) {
	if AsResultConversion(nil) != nil {
		t.Error("expected AsResultConversion(nil) to be nil")
	}
	if AsResultConversion(&MsgConversion{}) != nil {
		t.Error("expected AsResultConversion with no ResultRules to be nil")
	}
	conv := &MsgConversion{ResultRules: []ConversionRule{{Path: "a", Mode: ConversionFixedValue, FixedValue: NewInt(1)}}}
	rc := AsResultConversion(conv)
	if rc == nil {
		t.Fatal("expected a non-nil ResultConversion")
	}
	result := NewCmdResult("x", "cmd-1", StatusOK)
	out := rc(result)
	if v, ok := out.Props.Get("a"); !ok {
		t.Error("expected converted result to carry the fixed value")
	} else if i, _ := v.AsInt(); i != 1 {
		t.Errorf("a = %d, want 1", i)
	}
}
