package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

type profile int

func (p profile) String() string { return "profile-" + string(rune('0'+int(p))) }

func TestLoggerWritesLogfmtLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Info).With(F("component", "chooser"))
	logger.Info("rebuild_done",
		F("generation", 3),
		F("label", "Share with"),
		F("user", profile(1)),
		F("elapsed", 1500*time.Millisecond),
		Err(errors.New("sort deadline")),
	)
	line := buf.String()
	for _, want := range []string{
		"level=info",
		"msg=rebuild_done",
		"component=chooser",
		"generation=3",
		`label="Share with"`,
		"user=profile-1",
		"elapsed=1.5s",
		`error="sort deadline"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("expected trailing newline")
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Warn)
	logger.Debug("noise")
	logger.Info("noise")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	if logger.Enabled(Info) || !logger.Enabled(Error) {
		t.Fatalf("unexpected Enabled results")
	}
	logger.Error("boom", F("empty", ""), F("nil", nil))
	if !strings.Contains(buf.String(), `empty=""`) || !strings.Contains(buf.String(), "nil=null") {
		t.Fatalf("unexpected formatting %q", buf.String())
	}
}

func TestWithDoesNotLeakFieldsIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, Debug)
	_ = parent.With(F("tab", "work"))
	parent.Debug("parent")
	if strings.Contains(buf.String(), "tab=work") {
		t.Fatalf("expected child fields to stay on the child")
	}
}

func TestParseLevelAndNop(t *testing.T) {
	cases := map[string]Level{"debug": Debug, " WARNING ": Warn, "error": Error, "": Info, "loud": Info}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
	if OrNop(nil).Enabled(Error) {
		t.Fatalf("expected nop logger to discard everything")
	}
	if NewSessionID() == NewSessionID() {
		t.Fatalf("expected distinct session ids")
	}
}

type component string

func (c component) String() string { return string(c) }

func TestDomainFieldsAndClock(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Debug).(*lineLogger)
	logger.sink.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	logger.With(Session("s-1")).Debug("direct_share_loaded",
		Generation(42),
		Component(component("com.example.chat/.Share")),
		F("score", 0.25),
	)
	want := "ts=2026-03-01T12:00:00Z level=debug msg=direct_share_loaded session=s-1 generation=42 component_name=com.example.chat/.Share score=0.25\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestLevelTextRoundTrip(t *testing.T) {
	var level Level
	if err := level.UnmarshalText([]byte("Warning")); err != nil || level != Warn {
		t.Fatalf("expected warn, got %v err=%v", level, err)
	}
	text, err := Error.MarshalText()
	if err != nil || string(text) != "error" {
		t.Fatalf("expected error, got %q err=%v", text, err)
	}
}
