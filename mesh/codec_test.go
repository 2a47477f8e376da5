package mesh

import "testing"

func TestJSONCodecRoundTripCmd(t *testing.T) {
	msg := NewCmd("greet")
	msg.CmdID = "cmd-1"
	msg.Src = Location{AppURI: "app-a", ExtensionName: "src-ext"}
	msg.Dest = []Location{{AppURI: "app-b", ExtensionName: "dst-ext"}}
	msg.Props.Set("who", NewString("world"))

	var codec JSONCodec
	frame, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Type != MsgTypeCmd || back.Name != "greet" || back.CmdID != "cmd-1" {
		t.Errorf("decoded envelope mismatch: %+v", back)
	}
	if back.Src.AppURI != "app-a" || back.Src.ExtensionName != "src-ext" {
		t.Errorf("decoded src mismatch: %+v", back.Src)
	}
	if len(back.Dest) != 1 || back.Dest[0].ExtensionName != "dst-ext" {
		t.Errorf("decoded dest mismatch: %+v", back.Dest)
	}
	v, ok := back.Props.Get("who")
	if !ok {
		t.Fatal("expected 'who' property to survive round trip")
	}
	if s, _ := v.AsString(); s != "world" {
		t.Errorf("who = %q, want %q", s, "world")
	}
}

func TestJSONCodecRoundTripCmdResultStatus(t *testing.T) {
	var codec JSONCodec
	tests := []struct {
		name   string
		status StatusCode
	}{
		{"ok status", StatusOK},
		{"error status", StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewCmdResult("greet", "cmd-1", tt.status)
			frame, err := codec.Encode(result)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			back, err := codec.Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if back.Status != tt.status {
				t.Errorf("Status = %v, want %v", back.Status, tt.status)
			}
		})
	}
}

func TestJSONCodecDecodeMissingPropsYieldsEmptyObject(t *testing.T) {
	var codec JSONCodec
	back, err := codec.Decode([]byte(`{"_ten_type":"data","name":"tick"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Props == nil {
		t.Fatal("expected a non-nil empty properties object when the frame carries none")
	}
	if _, ok := back.Props.Get("anything"); ok {
		t.Error("expected an empty properties object")
	}
}

func TestJSONCodecDecodeInvalidFrameErrors(t *testing.T) {
	var codec JSONCodec
	if _, err := codec.Decode([]byte("not json")); err == nil {
		t.Error("expected an error decoding a non-JSON frame")
	}
}
