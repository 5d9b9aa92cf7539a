package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"clashdash/internal/shared/types"
)

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(types.LogConf{Level: "info", Format: "json"}, &buf); err != nil {
		t.Fatalf("InitWithWriter: %v", err)
	}
	Info().Str("server", "home").Int("port", 9090).Msg("checked")

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output is not a single json line: %q (%v)", buf.String(), err)
	}
	if line["message"] != "checked" || line["server"] != "home" || line["level"] != "info" {
		t.Errorf("unexpected fields: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected a timestamp field")
	}
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(types.LogConf{Level: "warn", Format: "json"}, &buf); err != nil {
		t.Fatalf("InitWithWriter: %v", err)
	}
	Info().Msg("hidden")
	Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("level filter not applied: %q", out)
	}
}

func TestInitUnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(types.LogConf{Level: "loud"}, &buf); err != nil {
		t.Fatalf("InitWithWriter: %v", err)
	}
	if !strings.Contains(buf.String(), "defaulting to 'info'") {
		t.Errorf("expected fallback notice, got %q", buf.String())
	}
}

func TestInitUnknownFormat(t *testing.T) {
	if err := InitWithWriter(types.LogConf{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(types.LogConf{Level: "debug", Format: "json"}, &buf); err != nil {
		t.Fatalf("InitWithWriter: %v", err)
	}
	buf.Reset()
	l := WithComponent("Poller")
	l.Info().Msg("tick")
	if !strings.Contains(buf.String(), `"component":"Poller"`) {
		t.Errorf("component field missing: %q", buf.String())
	}
}
