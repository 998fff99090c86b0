package capture_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxtap/internal/capture"
	"github.com/MrWong99/voxtap/pkg/audio"
)

func writeWAV(t *testing.T, samples []int32, rate int) string {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestWAVSource_ReplaysAndPads(t *testing.T) {
	t.Parallel()
	// Multiples of 256 survive the 16-bit round trip exactly.
	in := []int32{256, -512, 1024}
	src, err := capture.NewWAVSource(writeWAV(t, in, audio.SampleRate), false)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}

	dst := make([]int32, 5)
	src.Read(dst)
	want := []int32{256, -512, 1024, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestWAVSource_Loops(t *testing.T) {
	t.Parallel()
	in := []int32{256, 512}
	src, err := capture.NewWAVSource(writeWAV(t, in, audio.SampleRate), true)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}
	dst := make([]int32, 5)
	src.Read(dst)
	want := []int32{256, 512, 256, 512, 256}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestWAVSource_RejectsWrongRate(t *testing.T) {
	t.Parallel()
	if _, err := capture.NewWAVSource(writeWAV(t, []int32{256}, 8000), true); err == nil {
		t.Error("expected error for an 8 kHz file")
	}
}

func TestWAVSource_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := capture.NewWAVSource(filepath.Join(t.TempDir(), "nope.wav"), true); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestToneSource_DeterministicPerSeed(t *testing.T) {
	t.Parallel()
	a := capture.NewToneSource(nil, 5000, 42)
	b := capture.NewToneSource(nil, 5000, 42)
	da, db := make([]int32, 2048), make([]int32, 2048)
	a.Read(da)
	b.Read(db)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, da[i], db[i])
		}
	}
}

func TestToneSource_FollowsScript(t *testing.T) {
	t.Parallel()
	script := []capture.Segment{
		{Duration: 32 * time.Millisecond},
		{Duration: 32 * time.Millisecond, Freq: 440, Amplitude: 1_000_000},
	}
	src := capture.NewToneSource(script, 0, 1)
	quiet, loud := make([]int32, audio.FrameSize), make([]int32, audio.FrameSize)
	src.Read(quiet)
	src.Read(loud)

	if audio.Peak(quiet) != 0 {
		t.Errorf("silent segment peak = %d, want 0", audio.Peak(quiet))
	}
	if p := audio.Peak(loud); p < 900_000 {
		t.Errorf("tone segment peak = %d, want close to 1000000", p)
	}

	// The script loops back to the silent segment.
	again := make([]int32, audio.FrameSize)
	src.Read(again)
	if audio.Peak(again) != 0 {
		t.Error("script did not loop")
	}
}

func TestSilenceSource(t *testing.T) {
	t.Parallel()
	dst := []int32{1, 2, 3}
	capture.SilenceSource{}.Read(dst)
	for i, v := range dst {
		if v != 0 {
			t.Errorf("sample %d = %d, want 0", i, v)
		}
	}
}
