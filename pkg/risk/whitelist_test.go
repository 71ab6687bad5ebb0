package risk

import "testing"

func TestWhitelistExactAndPrefix(t *testing.T) {
	wl := NewWhitelist("C:\\Keep\\file.txt")
	wl.AddPrefix("/home/alice/keep")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"exact hit", "C:\\Keep\\file.txt", true},
		{"exact hit different case", "c:\\keep\\FILE.TXT", true},
		{"exact miss", "C:\\Keep\\other.txt", false},
		{"prefix hit", "/home/alice/keep/sub/file", true},
		{"prefix hit on root", "/home/alice/keep", true},
		{"prefix near miss", "/home/alice/keepsake/file", false},
		{"unrelated", "/tmp/foo", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wl.Contains(tt.path); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWhitelistTrailingSeparators(t *testing.T) {
	wl := NewWhitelist()
	wl.AddPrefix("/var/important/")

	if !wl.Contains("/var/important/data.db") {
		t.Error("expected trailing-slash prefix to protect subtree")
	}
	if !wl.Contains("/var/important") {
		t.Error("expected trailing-slash prefix to protect the root itself")
	}
}

func TestWhitelistLen(t *testing.T) {
	wl := NewWhitelist("/a", "/b")
	wl.AddPrefix("/c")
	if got := wl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}
