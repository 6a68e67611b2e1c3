package version

import (
	"runtime/debug"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/smazurov/theia", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		want Info
	}{
		{
			name: "unset",
			in:   Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"},
			want: Info{Version: "dev", GitCommit: "0123456789abcdef", BuildDate: "2026-10-01T12:00:00Z", Modified: true},
		},
		{
			name: "ldflags win",
			in:   Info{Version: "1.2.0", GitCommit: "feedbee", BuildDate: "yesterday"},
			want: Info{Version: "1.2.0", GitCommit: "feedbee", BuildDate: "yesterday", Modified: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			fillFromBuildInfo(&got, bi)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFillFromBuildInfoModuleVersion(t *testing.T) {
	info := Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}})
	if info.Version != "v0.3.1" {
		t.Errorf("Version = %q, want v0.3.1", info.Version)
	}
}
