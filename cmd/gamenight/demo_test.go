package main

import "testing"

func TestDemoRuns(t *testing.T) {
	if err := demoCmd.RunE(demoCmd, nil); err != nil {
		t.Fatalf("demo failed: %v", err)
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"short", "****"},
		{"abcdefghijkl", "abcd...ijkl"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Fatalf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
