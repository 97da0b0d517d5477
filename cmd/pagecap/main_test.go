package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCaptureFlags_Overrides(t *testing.T) {
	cf := &captureFlags{}
	fs := captureFlagSet(cf)

	if err := fs.Parse([]string{"--mode", "screenshot", "--fps", "30", "--full-page", "-o", "home", "--delay", "1.5"}); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	raw, err := cf.overrides(fs, "https://example.com")
	if err != nil {
		t.Fatalf("overrides() error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("overrides are not JSON: %v", err)
	}

	want := map[string]any{
		"url":            "https://example.com",
		"mode":           "screenshot",
		"frameRate":      30.0,
		"fullPage":       true,
		"outputFileName": "home",
		"initialDelay":   1.5,
	}
	if len(doc) != len(want) {
		t.Errorf("overrides = %v, want only the changed flags", doc)
	}
	for k, v := range want {
		if doc[k] != v {
			t.Errorf("overrides[%q] = %v, want %v", k, doc[k], v)
		}
	}
}

func TestCaptureFlags_DefaultsNotSent(t *testing.T) {
	cf := &captureFlags{}
	fs := captureFlagSet(cf)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	raw, err := cf.overrides(fs, "https://example.com")
	if err != nil {
		t.Fatalf("overrides() error: %v", err)
	}
	if string(raw) != `{"url":"https://example.com"}` {
		t.Errorf("overrides = %s, want url only", raw)
	}
}

func TestPresetsCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"presets"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(out.String(), "mobile") {
		t.Errorf("output missing the mobile preset:\n%s", out.String())
	}
}

func TestRootCommand_Flags(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"config", "log-level"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing persistent flag --%s", name)
		}
	}

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "capture", "presets"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}
