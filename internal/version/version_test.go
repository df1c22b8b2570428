package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if info.Commit == "" {
		t.Error("expected non-empty commit")
	}
	if info.Date == "" {
		t.Error("expected non-empty date")
	}
}

func TestGet_Defaults(t *testing.T) {
	// Без ldflags сборка представляется как dev.
	info := Get()
	if info.Version != "dev" {
		t.Errorf("expected dev version by default, got %s", info.Version)
	}
}

func TestInfo_String(t *testing.T) {
	s := Info{Version: "v1.2.3", Commit: "abc1234", Date: "2026-08-25"}.String()
	for _, part := range []string{"v1.2.3", "abc1234", "2026-08-25"} {
		if !strings.Contains(s, part) {
			t.Errorf("expected %q in %q", part, s)
		}
	}
}
