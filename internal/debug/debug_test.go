package debug

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		in      string
		enabled bool
	}{
		{"", false},
		{"0", false},
		{"-1", false},
		{"client", false},
		{"1", true},
		{"2", true},
	}

	for _, test := range tests {
		l := fromEnv(test.in)
		if got := l.Enabled(context.Background(), slog.LevelDebug); got != test.enabled {
			t.Errorf("fromEnv(%q) debug enabled = %v, want %v", test.in, got, test.enabled)
		}
	}
}

func TestPrintf(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	Printf(" -> %v.%v()", "wl_surface@3", "commit")
	if !strings.Contains(buf.String(), "wl_surface@3.commit()") {
		t.Errorf("log output = %q", buf.String())
	}

	buf.Reset()
	SetLogger(nil)
	Printf("dropped")
	if buf.Len() != 0 {
		t.Errorf("nil logger wrote %q", buf.String())
	}
}
