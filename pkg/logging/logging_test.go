package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/pario-ai/querygate/pkg/config"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(config.LogConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("%s: expected debug level enabled", format)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("expected a non-nil logger")
	}
}
