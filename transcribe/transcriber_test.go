package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"murmur/engine"
)

func alwaysVoice(_ context.Context, _ []float32) (bool, error) { return true, nil }
func neverVoice(_ context.Context, _ []float32) (bool, error)  { return false, nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNoPassBelowMinNewAudio(t *testing.T) {
	changes := 0
	tr, mic, eng := newTestTranscriber(Config{
		Voice:    alwaysVoice,
		Observer: func(_, _ State) { changes++ },
	})
	tr.set(func(s *State) { s.IsRecording = true })
	changes = 0

	mic.AppendSeconds(0.5, 0.1)
	tr.cycle(context.Background())

	if got := len(eng.Calls()); got != 0 {
		t.Fatalf("engine invoked %d times, want 0", got)
	}
	st := tr.State()
	if st.PartialText != placeholderText {
		t.Errorf("PartialText = %q, want placeholder", st.PartialText)
	}
	if changes != 1 {
		t.Errorf("state changed %d times, want 1 (placeholder only)", changes)
	}

	// A second starved cycle changes nothing at all.
	changes = 0
	tr.cycle(context.Background())
	if changes != 0 {
		t.Errorf("state changed %d times on repeat cycle, want 0", changes)
	}
}

func TestPassConfirmsAndClipsForward(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: alwaysVoice, RequiredSegments: 2})
	tr.set(func(s *State) { s.IsRecording = true })

	mic.AppendSeconds(2.0, 0.1)
	eng.EnqueueSegments(fourSegments()...)
	tr.cycle(context.Background())

	st := tr.State()
	if len(st.Confirmed) != 2 || len(st.Unconfirmed) != 2 {
		t.Fatalf("confirmed/unconfirmed = %d/%d, want 2/2", len(st.Confirmed), len(st.Unconfirmed))
	}
	if st.LastBufferSize != len(mic.Buffer()) {
		t.Errorf("LastBufferSize = %d, want %d", st.LastBufferSize, len(mic.Buffer()))
	}

	mic.AppendSeconds(1.5, 0.1)
	eng.EnqueueSegments(seg(2, 3, "c"), seg(3, 4, "d"), seg(4, 5, "e"))
	tr.cycle(context.Background())

	calls := eng.Calls()
	if len(calls) != 2 {
		t.Fatalf("engine invoked %d times, want 2", len(calls))
	}
	if calls[0].ClipStart != 0 {
		t.Errorf("first pass ClipStart = %v, want 0", calls[0].ClipStart)
	}
	if calls[1].ClipStart != 2 {
		t.Errorf("second pass ClipStart = %v, want 2 (last confirmed end)", calls[1].ClipStart)
	}
}

func TestSilenceFlushPromotesUnconfirmed(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: neverVoice})
	tr.set(func(s *State) {
		s.IsRecording = true
		s.Unconfirmed = []engine.Segment{seg(0, 2, "hello")}
	})

	mic.AppendSeconds(2.0, 0.0)
	eng.EnqueueSegments() // flush pass finds nothing
	tr.cycle(context.Background())

	st := tr.State()
	if len(st.Confirmed) != 1 || st.Confirmed[0] != seg(0, 2, "hello") {
		t.Fatalf("Confirmed = %v, want [{0 2 hello}]", st.Confirmed)
	}
	if len(st.Unconfirmed) != 0 {
		t.Errorf("Unconfirmed = %v, want empty", st.Unconfirmed)
	}
	if st.LastConfirmedEnd != 0 {
		t.Errorf("LastConfirmedEnd = %v, want 0", st.LastConfirmedEnd)
	}
	if st.LastBufferSize != 0 {
		t.Errorf("LastBufferSize = %d, want 0", st.LastBufferSize)
	}
	if purges := mic.Purges(); len(purges) != 1 || purges[0] != 0 {
		t.Errorf("Purges = %v, want [0]", purges)
	}
	if len(mic.Buffer()) != 0 {
		t.Error("buffer not purged")
	}
	// Exactly one pass ran this cycle: the flush.
	if got := len(eng.Calls()); got != 1 {
		t.Errorf("engine invoked %d times, want 1", got)
	}
	if st.PartialText != placeholderText {
		t.Errorf("PartialText = %q, want placeholder", st.PartialText)
	}
}

func TestSilenceFlushPrefersFreshRead(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: neverVoice})
	tr.set(func(s *State) {
		s.IsRecording = true
		s.Unconfirmed = []engine.Segment{seg(0, 2, "stale")}
	})

	mic.AppendSeconds(2.0, 0.0)
	eng.EnqueueSegments(seg(0, 2.5, "fresh"))
	tr.cycle(context.Background())

	st := tr.State()
	if len(st.Confirmed) != 1 || st.Confirmed[0].Text != "fresh" {
		t.Errorf("Confirmed = %v, want the fresh read", st.Confirmed)
	}
}

func TestNoFlushWithoutUnconfirmed(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: neverVoice})
	tr.set(func(s *State) { s.IsRecording = true })

	mic.AppendSeconds(2.0, 0.0)
	tr.cycle(context.Background())

	if got := len(eng.Calls()); got != 0 {
		t.Errorf("engine invoked %d times, want 0", got)
	}
}

func TestNoFlushBelowSilenceSpan(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: neverVoice})
	tr.set(func(s *State) {
		s.IsRecording = true
		s.Unconfirmed = []engine.Segment{seg(0, 1, "pending")}
	})

	mic.AppendSeconds(1.2, 0.0) // above the pass minimum, below the flush span
	tr.cycle(context.Background())

	if got := len(eng.Calls()); got != 0 {
		t.Errorf("engine invoked %d times, want 0", got)
	}
	if got := tr.State().Unconfirmed; len(got) != 1 {
		t.Errorf("Unconfirmed = %v, want untouched", got)
	}
}

func TestEarlyStopCompressionRatio(t *testing.T) {
	tr, _, _ := newTestTranscriber(Config{
		CompressionCheckWindow:    5,
		CompressionRatioThreshold: 1.2,
	})

	repetitive := engine.Progress{Tokens: []int{7, 7, 7, 7, 7, 7}}
	if got := tr.onProgress(repetitive); got != engine.StopLowConfidence {
		t.Error("repetitive trailing window should stop the decode")
	}

	distinct := engine.Progress{Tokens: []int{
		0x1a2b3c4d, 0x5e6f7081, 0x92a3b4c5, 0xd6e7f809, 0x13579bdf, 0x2468ace0,
	}}
	if got := tr.onProgress(distinct); got != engine.Continue {
		t.Error("distinct trailing window should continue")
	}
}

func TestEarlyStopLogProb(t *testing.T) {
	threshold := -1.0
	tr, _, _ := newTestTranscriber(Config{
		CompressionCheckWindow: 5,
		LogProbThreshold:       &threshold,
	})

	low := -2.0
	if got := tr.onProgress(engine.Progress{Tokens: []int{1, 2, 3}, AvgLogProb: &low}); got != engine.StopLowConfidence {
		t.Error("low average log-probability should stop the decode")
	}

	fine := -0.5
	if got := tr.onProgress(engine.Progress{Tokens: []int{1, 2, 3}, AvgLogProb: &fine}); got != engine.Continue {
		t.Error("healthy average log-probability should continue")
	}
}

func TestEarlyStopChecksRatioBeforeLogProb(t *testing.T) {
	threshold := -1.0
	tr, _, _ := newTestTranscriber(Config{
		CompressionCheckWindow:    5,
		CompressionRatioThreshold: 1.2,
		LogProbThreshold:          &threshold,
	})

	// Token count exceeds the window, ratio is healthy: the log-prob
	// branch is not consulted this step.
	low := -10.0
	p := engine.Progress{
		Tokens:     []int{0x1a2b3c4d, 0x5e6f7081, 0x92a3b4c5, 0xd6e7f809, 0x13579bdf, 0x2468ace0},
		AvgLogProb: &low,
	}
	if got := tr.onProgress(p); got != engine.Continue {
		t.Error("log-prob branch consulted despite ratio branch applying")
	}
}

func TestPartialTextArchivedOnReset(t *testing.T) {
	tr, _, _ := newTestTranscriber(Config{})

	tr.recordPartial(engine.Progress{Text: "hello world", FallbackCount: 0})
	tr.recordPartial(engine.Progress{Text: "he", FallbackCount: 0})

	st := tr.State()
	if len(st.PartialHistory) != 1 || st.PartialHistory[0] != "hello world" {
		t.Fatalf("PartialHistory = %v, want [hello world]", st.PartialHistory)
	}
	if st.PartialText != "he" {
		t.Errorf("PartialText = %q, want %q", st.PartialText, "he")
	}
}

func TestPartialFallbackResetNotArchived(t *testing.T) {
	tr, _, _ := newTestTranscriber(Config{})

	tr.recordPartial(engine.Progress{Text: "hello world", FallbackCount: 0})
	tr.recordPartial(engine.Progress{Text: "he", FallbackCount: 1})

	st := tr.State()
	if len(st.PartialHistory) != 0 {
		t.Errorf("PartialHistory = %v, want empty on fallback reset", st.PartialHistory)
	}
	if st.FallbackCount != 1 {
		t.Errorf("FallbackCount = %d, want 1", st.FallbackCount)
	}
	if st.PartialText != "he" {
		t.Errorf("PartialText = %q, want %q", st.PartialText, "he")
	}
}

func TestPassStartClearsPartialTrail(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: alwaysVoice})
	tr.set(func(s *State) {
		s.IsRecording = true
		s.PartialText = placeholderText
		s.PartialHistory = []string{"old"}
	})

	mic.AppendSeconds(2.0, 0.1)
	eng.EnqueueSegments(seg(0, 1, "a"))
	tr.cycle(context.Background())

	st := tr.State()
	if st.PartialText != "" {
		t.Errorf("PartialText = %q, want cleared", st.PartialText)
	}
	if len(st.PartialHistory) != 0 {
		t.Errorf("PartialHistory = %v, want cleared", st.PartialHistory)
	}
}

func TestPermissionDeniedDoesNotStart(t *testing.T) {
	tr, mic, _ := newTestTranscriber(Config{})
	mic.Permission = false

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start = %v, want nil (denial is non-fatal)", err)
	}
	if tr.State().IsRecording {
		t.Error("IsRecording = true after denied permission")
	}
	if mic.Started() {
		t.Error("capture started despite denied permission")
	}
	select {
	case <-tr.Done():
	default:
		t.Error("Done() should report no loop running")
	}
}

func TestRedundantStartIsNoOp(t *testing.T) {
	tr, mic, _ := newTestTranscriber(Config{})
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mic.Starts(); got != 1 {
		t.Errorf("capture started %d times, want 1", got)
	}
}

func TestPassFailureStopsSession(t *testing.T) {
	tr, mic, eng := newTestTranscriber(Config{Voice: alwaysVoice})
	mic.AppendSeconds(2.0, 0.1)
	eng.Enqueue(engine.FakePass{Err: errors.New("decode failed")})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after pass failure")
	}
	if tr.State().IsRecording {
		t.Error("IsRecording = true after fatal pass failure")
	}
	if mic.Started() {
		t.Error("capture still running after fatal pass failure")
	}
}

func TestRestartMidPassDropsStaleResult(t *testing.T) {
	block := make(chan struct{})
	tr, mic, eng := newTestTranscriber(Config{Voice: alwaysVoice})
	mic.AppendSeconds(2.0, 0.1)
	eng.Enqueue(engine.FakePass{Segments: fourSegments(), Block: block})

	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pass to start", func() bool { return len(eng.Calls()) == 1 })

	tr.Stop()

	// Resume while the old session's pass is still in flight. Start waits
	// out the old loop, so run it concurrently and then release the pass.
	restarted := make(chan error, 1)
	go func() { restarted <- tr.Start(ctx) }()
	close(block)

	select {
	case err := <-restarted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("restart did not complete")
	}
	defer tr.Stop()

	st := tr.State()
	if len(st.Confirmed) != 0 || len(st.Unconfirmed) != 0 {
		t.Errorf("stale pass committed across restart: confirmed=%v unconfirmed=%v",
			st.Confirmed, st.Unconfirmed)
	}
	if !st.IsRecording {
		t.Error("IsRecording = false after restart")
	}
	if got := mic.Starts(); got != 2 {
		t.Errorf("capture started %d times, want 2", got)
	}
}

func TestLateResultDroppedAfterStop(t *testing.T) {
	block := make(chan struct{})
	tr, mic, eng := newTestTranscriber(Config{Voice: alwaysVoice})
	mic.AppendSeconds(2.0, 0.1)
	eng.Enqueue(engine.FakePass{
		Segments: fourSegments(),
		Block:    block,
	})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pass to start", func() bool { return len(eng.Calls()) == 1 })

	tr.Stop()
	close(block)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after stop")
	}
	st := tr.State()
	if len(st.Confirmed) != 0 || len(st.Unconfirmed) != 0 {
		t.Errorf("late pass committed: confirmed=%v unconfirmed=%v", st.Confirmed, st.Unconfirmed)
	}
}

func TestEnergyReadingsReachTrace(t *testing.T) {
	tr, mic, _ := newTestTranscriber(Config{Voice: neverVoice})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	mic.EmitEnergy(0.2)
	mic.EmitEnergy(0.8)

	waitFor(t, "energy trace", func() bool {
		return len(tr.State().EnergyTrace) >= 2
	})
	trace := tr.State().EnergyTrace
	if trace[0] != 0.2 || trace[1] != 0.8 {
		t.Errorf("EnergyTrace = %v, want [0.2 0.8]", trace)
	}
}

func TestCompressionRatio(t *testing.T) {
	rep := compressionRatio([]int{7, 7, 7, 7, 7, 7, 7, 7, 7, 7})
	dis := compressionRatio([]int{0x1a2b3c4d, 0x5e6f7081, 0x92a3b4c5, 0xd6e7f809, 0x13579bdf})
	if rep <= dis {
		t.Errorf("repetitive ratio %v should exceed distinct ratio %v", rep, dis)
	}
	if compressionRatio(nil) != 0 {
		t.Error("empty window should score 0")
	}
}
