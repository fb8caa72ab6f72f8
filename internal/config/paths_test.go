package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetInstancePathsDefaults(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/previewd-home")

	paths := GetInstancePaths("")
	want := filepath.Join("/tmp/previewd-home", "instances", DefaultInstance)
	if paths.Home != want {
		t.Fatalf("home = %q, want %q", paths.Home, want)
	}
	if paths.ConfigDB != filepath.Join(want, "config.db") {
		t.Fatalf("config db = %q", paths.ConfigDB)
	}
}

func TestEnsureInstanceDirsCreatesLayout(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	paths, err := EnsureInstanceDirs("test")
	if err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.Logs, paths.TempDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("missing directory %q: %v", dir, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/previews", filepath.Join(home, "previews")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}
	for _, tc := range cases {
		if got := ExpandPath(tc.in); got != tc.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
