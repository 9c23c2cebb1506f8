package runner

import (
	"testing"

	"github.com/poltergeist/summon/pkg/types"
)

func TestResolveEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		base    []string
		overlay map[string]string
		want    []string
	}{
		{
			name: "inherits base",
			base: []string{"PATH=/bin", "HOME=/root"},
			want: []string{"HOME=/root", "PATH=/bin"},
		},
		{
			name:    "overlay wins",
			base:    []string{"PATH=/bin", "MODE=debug"},
			overlay: map[string]string{"MODE": "release"},
			want:    []string{"MODE=release", "PATH=/bin"},
		},
		{
			name:    "overlay adds keys",
			base:    []string{"PATH=/bin"},
			overlay: map[string]string{"NODE_ENV": "test"},
			want:    []string{"NODE_ENV=test", "PATH=/bin"},
		},
		{
			name: "values containing equals survive",
			base: []string{"OPTS=a=b=c"},
			want: []string{"OPTS=a=b=c"},
		},
		{
			name: "malformed entries dropped",
			base: []string{"NOEQUALS", "OK=1"},
			want: []string{"OK=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveEnvironment(tt.base, tt.overlay)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		target types.BuildTarget
		want   string
	}{
		{types.BuildTarget{Cmd: "make"}, "make"},
		{types.BuildTarget{Cmd: "go", Args: []string{"build", "./..."}}, "go build ./..."},
	}

	for _, tt := range tests {
		if got := commandLine(tt.target); got != tt.want {
			t.Errorf("commandLine(%+v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
