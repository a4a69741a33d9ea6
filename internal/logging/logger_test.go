package logging

import (
	"net"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be silent when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	defer SetLogger(nil)

	l := GetLogger()
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestInitialize_BadLevel(t *testing.T) {
	if err := Initialize("chatty"); err == nil {
		t.Error("Initialize() with unknown level should fail")
	}
}

func TestLogDatagram(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(core)

	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 56700}
	LogDatagram(l, "out", addr, []byte{0x24, 0x00, 0x00, 0x34})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["peer"] != "192.168.1.20:56700" {
		t.Errorf("peer = %v", fields["peer"])
	}
	if fields["hex"] != "24000034" {
		t.Errorf("hex = %v", fields["hex"])
	}
}

func TestLogDatagram_SkippedAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogDatagram(zap.New(core), "in", nil, []byte{1, 2, 3})
	if logs.Len() != 0 {
		t.Errorf("datagram logged at info level: %d entries", logs.Len())
	}
}

func TestLogRequest(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 56700}
	LogRequest(zap.New(core), 9, addr, "GetLabel")

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["token"] != uint8(9) || fields["type"] != "GetLabel" {
		t.Errorf("fields = %v", fields)
	}
}

func TestHexDump_Truncates(t *testing.T) {
	data := make([]byte, maxDumpBytes+10)
	got := HexDump(data)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("HexDump() = %q, want truncated suffix", got)
	}
	if len(got) != maxDumpBytes*2+3 {
		t.Errorf("len(HexDump()) = %d, want %d", len(got), maxDumpBytes*2+3)
	}
}
