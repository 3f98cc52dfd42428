package debug

import (
	"bytes"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, LevelLive)

	Info("info %d", 1)
	Live("live %d", 2)
	Verbose("verbose %d", 3)
	Trace("trace %d", 4)

	out := buf.String()
	if !strings.Contains(out, "[INFO] info 1") {
		t.Errorf("info line missing: %q", out)
	}
	if !strings.Contains(out, "[LIVE] live 2") {
		t.Errorf("live line missing: %q", out)
	}
	if strings.Contains(out, "verbose 3") || strings.Contains(out, "trace 4") {
		t.Errorf("lines above level should be dropped: %q", out)
	}
}

func TestOffPrintsNothing(t *testing.T) {
	buf := captureOutput(t, LevelOff)
	Info("x")
	Anchor(12.5, 7)
	Error(nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
	if Fmt("%d", 1) != "" {
		t.Error("Fmt should return empty string when debug is off")
	}
}

func TestDomainHelpers(t *testing.T) {
	buf := captureOutput(t, LevelTrace)

	Anchor(21.25, 1000)
	Speed(21.25, 21.5, 0.0067, -0.001)
	Dither(0.5, 0.0001, "closest approach")
	GPIO("WritePin", 17, true)

	out := buf.String()
	for _, want := range []string{
		"Angle stored 21.25000° at tick 1000",
		"freq = 21.500 steps/s",
		"Dither: offset=+0.50000°",
		"[GPIO] WritePin pin=17 value=true",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetOutputAfterInit(t *testing.T) {
	buf := captureOutput(t, LevelInfo)
	var second bytes.Buffer
	SetOutput(&second)
	Info("redirected")
	if strings.Contains(buf.String(), "redirected") {
		t.Error("message went to the old writer")
	}
	if !strings.Contains(second.String(), "redirected") {
		t.Errorf("message missing from new writer: %q", second.String())
	}
}
