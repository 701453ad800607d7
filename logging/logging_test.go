package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		l, err := New(Config{Env: env, Level: "debug", Service: "socialauth"})
		if err != nil {
			t.Fatalf("New(%s): %v", env, err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("New(%s): debug not enabled", env)
		}
	}
	if _, err := New(Config{Level: "nope"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestIsProduction(t *testing.T) {
	if !IsProduction("prod") || !IsProduction("Production") {
		t.Error("prod names not recognised")
	}
	if IsProduction("dev") || IsProduction("") {
		t.Error("non-prod reported as production")
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	fallback := zap.NewExample()
	if From(ctx, fallback) != fallback {
		t.Error("expected fallback")
	}
	if From(ctx, nil) == nil {
		t.Error("expected nop logger")
	}
	l := zap.NewNop()
	if From(ToContext(ctx, l), fallback) != l {
		t.Error("expected context logger")
	}
}
