package mesh

import (
	"context"
	"testing"

	"github.com/relaymesh/meshrt/mesh/transport"
)

func TestRemoteSendEncodesOverTransport(t *testing.T) {
	a, b := transport.NewLoopbackPair("app-a", "app-b")
	r := NewRemote("app-b", nil, a, nil)

	msg := NewCmd("ping")
	msg.CmdID = "cmd-1"
	msg.Dest = []Location{{AppURI: "app-b", ExtensionName: "ext-1"}}

	if err := r.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frame, err := b.Recv(context.Background())
	if err != nil {
		t.Fatalf("peer Recv: %v", err)
	}
	var codec JSONCodec
	decoded, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Name != "ping" || decoded.CmdID != "cmd-1" {
		t.Errorf("decoded = %+v, want name=ping cmd_id=cmd-1", decoded)
	}
}

func TestRemoteStateStartsConnecting(t *testing.T) {
	a, _ := transport.NewLoopbackPair("app-a", "app-b")
	r := NewRemote("app-b", nil, a, nil)
	if r.State() != RemoteStateConnecting {
		t.Errorf("State() = %v, want RemoteStateConnecting", r.State())
	}
}

func TestPreferLocalBreaksTieLexicographically(t *testing.T) {
	tests := []struct {
		local, remote string
		want          bool
	}{
		{"app-a", "app-b", true},
		{"app-b", "app-a", false},
		{"app-x", "app-x", false},
	}
	for _, tt := range tests {
		if got := PreferLocal(tt.local, tt.remote); got != tt.want {
			t.Errorf("PreferLocal(%q, %q) = %v, want %v", tt.local, tt.remote, got, tt.want)
		}
	}
}
