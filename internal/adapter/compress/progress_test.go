package compress

import (
	"errors"
	"strings"
	"testing"
)

func TestReadProgress(t *testing.T) {
	input := strings.Join([]string{
		"frame=1",
		"fps=0.00",
		"out_time=00:00:00.040000",
		"progress=continue",
		"frame=12",
		"  fps = 24.1 ",
		"garbage line",
		"progress=continue",
		"frame=30",
		"progress=end",
		"frame=31",
	}, "\n")

	var frames []string
	err := ReadProgress(strings.NewReader(input), func(r Report) error {
		frames = append(frames, r["frame"])
		return nil
	})
	if err != nil {
		t.Fatalf("ReadProgress() error = %v", err)
	}

	want := []string{"1", "12", "30"}
	if strings.Join(frames, ",") != strings.Join(want, ",") {
		t.Errorf("frames = %v, want %v", frames, want)
	}
}

func TestReadProgress_TrimsKeys(t *testing.T) {
	var got Report
	err := ReadProgress(strings.NewReader(" fps = 24.1 \nprogress=end\n"), func(r Report) error {
		got = r
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["fps"] != "24.1" {
		t.Errorf("fps = %q, want %q", got["fps"], "24.1")
	}
	if got["progress"] != "end" {
		t.Errorf("progress = %q, want %q", got["progress"], "end")
	}
}

func TestReadProgress_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	input := "frame=1\nprogress=continue\nframe=2\nprogress=continue\n"

	calls := 0
	err := ReadProgress(strings.NewReader(input), func(Report) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("ReadProgress() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
