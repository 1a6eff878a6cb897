package pipeline

import "testing"

func TestParsePackageID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    ChannelType
		wantErr bool
	}{
		{name: "group", id: "group:standup", want: ChannelType{Kind: ChannelKindGroup, ID: "standup"}},
		{name: "private", id: "private:alice", want: ChannelType{Kind: ChannelKindPrivate, ID: "alice"}},
		{name: "channel", id: "channel:general", want: ChannelType{Kind: ChannelKindChannel, ID: "general"}},
		{name: "empty", id: "", wantErr: true},
		{name: "no separator", id: "group-standup", wantErr: true},
		{name: "unknown kind", id: "room:standup", wantErr: true},
		{name: "empty id component", id: "group:", wantErr: true},
		{name: "extra colon", id: "group:stand:up", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePackageID(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got none", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.id, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePackageID(%q) = %+v, want %+v", tt.id, got, tt.want)
			}
		})
	}
}

func TestChannelTypeString(t *testing.T) {
	c := ChannelType{Kind: ChannelKindGroup, ID: "standup"}
	if got, want := c.String(), "group:standup"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPackageWithTargetSite(t *testing.T) {
	pkg, err := NewPackage("channel:general")
	if err != nil {
		t.Fatalf("NewPackage: %v", err)
	}

	withA := pkg.WithTargetSite(TargetSite{Name: "a"})
	if !withA.HasTargetSite("a") {
		t.Fatalf("expected target site 'a' present")
	}
	if len(pkg.TargetSites) != 0 {
		t.Fatalf("original package must not be mutated")
	}

	dup := withA.WithTargetSite(TargetSite{Name: "a"})
	if len(dup.TargetSites) != 1 {
		t.Fatalf("expected duplicate target site to be a no-op, got %d sites", len(dup.TargetSites))
	}

	removed := withA.WithoutTargetSite("a")
	if removed.HasTargetSite("a") {
		t.Fatalf("expected target site 'a' removed")
	}
}

func TestPackageEqual(t *testing.T) {
	a, _ := NewPackage("channel:general")
	b, _ := NewPackage("channel:general")
	if !a.Equal(b) {
		t.Fatalf("expected equal packages to compare equal")
	}

	c := a.WithTargetSite(TargetSite{Name: "x"})
	if a.Equal(c) {
		t.Fatalf("expected packages with different target sites to compare unequal")
	}
}

func TestNewPackageRejectsBadID(t *testing.T) {
	if _, err := NewPackage("bad-id"); err == nil {
		t.Fatalf("expected NewPackage to reject a malformed id")
	}
}
