package log

import "testing"

func TestInitRejectsUnknownFormat(t *testing.T) {
	defer Reset()
	if err := Init(Config{Level: LevelInfo, Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestInitAcceptsKnownFormats(t *testing.T) {
	defer Reset()
	for _, format := range []string{"", "console", "json"} {
		if err := Init(Config{Level: LevelDebug, Format: format}); err != nil {
			t.Fatalf("Init(%q) failed: %v", format, err)
		}
	}
}

func TestGetInitializesDefault(t *testing.T) {
	Reset()
	defer Reset()
	if Get() == nil {
		t.Fatal("Get returned nil logger")
	}
}

func TestZapLevelMapping(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level("bogus"), "info"},
	}
	for _, tt := range tests {
		if got := zapLevel(tt.level).String(); got != tt.want {
			t.Errorf("zapLevel(%q) = %q, want %q", tt.level, got, tt.want)
		}
	}
}
