package main

import (
	"strings"
	"testing"
)

// TestCaptureRequiresDevice checks the capture subcommand validates its
// required flag before ever touching a Controller (and therefore before
// ever touching a capture device).
func TestCaptureRequiresDevice(t *testing.T) {
	captureDevice = ""

	err := captureCmd.RunE(captureCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "--device") {
		t.Fatalf("err = %v, want a complaint about --device", err)
	}
}

// TestReplayRequiresFile mirrors TestCaptureRequiresDevice for the
// replay subcommand's --file flag.
func TestReplayRequiresFile(t *testing.T) {
	replayFile = ""

	err := replayCmd.RunE(replayCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "--file") {
		t.Fatalf("err = %v, want a complaint about --file", err)
	}
}

// TestRootCommandRegistersSubcommands checks every subcommand is wired
// onto the root command.
func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := map[string]bool{
		"list-devices": false,
		"capture":      false,
		"replay":       false,
		"serve":        false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q not registered on rootCmd", name)
		}
	}
}
