package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesPipelineKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("call committed", "op", "vault.deposit")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "op"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity = %v", line["severity"])
	}
}

func TestHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line not written")
	}
}

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	if attr := MaskField("authorization", "Bearer abc"); attr.Value.String() != "Bearer "+RedactedValue {
		t.Fatalf("authorization not redacted: %v", attr.Value)
	}
	if attr := MaskField("owner", "yld1abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("unknown key not redacted: %v", attr.Value)
	}
	if attr := MaskField("op", "lending.repay"); attr.Value.String() != "lending.repay" {
		t.Fatalf("plain key redacted: %v", attr.Value)
	}
	if attr := MaskField("token", " "); attr.Value.String() != " " {
		t.Fatalf("empty value altered: %q", attr.Value.String())
	}
}

func TestHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("token issued", "token", "eyJhbGciOi", "passphrase", 1234, "op", "token")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["token"] != RedactedValue || line["passphrase"] != RedactedValue {
		t.Fatalf("credential material leaked: %v", line)
	}
	if line["op"] != "token" {
		t.Fatalf("plain key altered: %v", line["op"])
	}
}
