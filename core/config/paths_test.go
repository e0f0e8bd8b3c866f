package config

import (
	"path/filepath"
	"testing"
)

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		goos, home, programData, want string
	}{
		{"linux", "/home/u", "", filepath.Join("/etc", "skybridge", "bridge.yaml")},
		{"darwin", "/Users/u", "", filepath.Join("/Users/u", "Library", "Application Support", "skybridge", "bridge.yaml")},
		{"windows", "", `D:\Data\`, filepath.Join(`D:\Data`, "skybridge", "bridge.yaml")},
		{"windows", "", "", filepath.Join("C:/ProgramData", "skybridge", "bridge.yaml")},
	}
	for _, tt := range tests {
		if got := ResolveConfigPath(tt.goos, tt.home, tt.programData, "bridge.yaml"); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.goos, got, tt.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SKYBRIDGE_TEST_VALUE", "x")
	if got := GetEnv("SKYBRIDGE_TEST_VALUE", "d"); got != "x" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("SKYBRIDGE_TEST_VALUE", "")
	if got := GetEnv("SKYBRIDGE_TEST_VALUE", "d"); got != "d" {
		t.Fatalf("empty value should fall back, got %q", got)
	}
}
