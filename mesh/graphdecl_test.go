package mesh

import "testing"

func TestGraphDeclValidate(t *testing.T) {
	tests := []struct {
		name    string
		decl    *GraphDecl
		wantErr bool
	}{
		{
			name: "connection referencing declared node is valid",
			decl: &GraphDecl{
				Nodes: []NodeDecl{{Kind: NodeKindExtension, Name: "a", Addon: "addon-a"}},
				Connections: []Connection{{
					Src: Location{ExtensionName: "a"},
					Cmd: []DestRule{{Dest: Location{ExtensionName: "a"}}},
				}},
			},
			wantErr: false,
		},
		{
			name: "connection referencing undeclared node is invalid",
			decl: &GraphDecl{
				Nodes: []NodeDecl{{Kind: NodeKindExtension, Name: "a", Addon: "addon-a"}},
				Connections: []Connection{{
					Src: Location{ExtensionName: "a"},
					Cmd: []DestRule{{Dest: Location{ExtensionName: "ghost"}}},
				}},
			},
			wantErr: true,
		},
		{
			name: "node redeclared with same addon is valid",
			decl: &GraphDecl{
				Nodes: []NodeDecl{
					{Kind: NodeKindExtension, Name: "a", Addon: "addon-a"},
					{Kind: NodeKindExtension, Name: "a", Addon: "addon-a"},
				},
			},
			wantErr: false,
		},
		{
			name: "node redeclared with conflicting addon is invalid",
			decl: &GraphDecl{
				Nodes: []NodeDecl{
					{Kind: NodeKindExtension, Name: "a", Addon: "addon-a"},
					{Kind: NodeKindExtension, Name: "a", Addon: "addon-b"},
				},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decl.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSynthesizeDefaultGroups(t *testing.T) {
	decl := &GraphDecl{
		Nodes: []NodeDecl{
			{Kind: NodeKindExtension, Name: "a", Addon: "addon-a", ExtensionGroup: "implicit"},
			{Kind: NodeKindExtensionGroup, Name: "explicit", Addon: "custom_group"},
			{Kind: NodeKindExtension, Name: "b", Addon: "addon-b", ExtensionGroup: "explicit"},
		},
	}
	decl.synthesizeDefaultGroups()

	var groups []NodeDecl
	for _, n := range decl.Nodes {
		if n.Kind == NodeKindExtensionGroup {
			groups = append(groups, n)
		}
	}
	if len(groups) != 2 {
		t.Fatalf("expected exactly 2 extension_group nodes after synthesis, got %d: %v", len(groups), groups)
	}
	var sawImplicit, sawExplicitUnchanged bool
	for _, g := range groups {
		switch g.Name {
		case "implicit":
			sawImplicit = true
			if g.Addon != DefaultExtensionGroupAddon {
				t.Errorf("synthesized group addon = %q, want %q", g.Addon, DefaultExtensionGroupAddon)
			}
		case "explicit":
			sawExplicitUnchanged = true
			if g.Addon != "custom_group" {
				t.Errorf("explicit group addon was overwritten: got %q", g.Addon)
			}
		}
	}
	if !sawImplicit {
		t.Error("expected a synthesized group named 'implicit'")
	}
	if !sawExplicitUnchanged {
		t.Error("expected the explicitly declared group to survive untouched")
	}
}

func TestImmediateConnectableApps(t *testing.T) {
	decl := &GraphDecl{
		Nodes: []NodeDecl{
			{Kind: NodeKindExtension, Name: "local", App: ""},
			{Kind: NodeKindExtension, Name: "other", App: "app-2"},
			{Kind: NodeKindExtension, Name: "dup", App: "app-2"},
			{Kind: NodeKindExtension, Name: "loopback", App: LocalhostURI},
		},
	}
	got := decl.immediateConnectableApps("app-1")
	if len(got) != 1 || got[0] != "app-2" {
		t.Errorf("immediateConnectableApps = %v, want [app-2]", got)
	}
}
