package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/store/memory"
)

type recordingDest struct {
	name string
	fail error

	mu     gosync.Mutex
	bodies [][]byte
}

func (d *recordingDest) Name() string { return d.name }

func (d *recordingDest) Write(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.bodies = append(d.bodies, bytes.Clone(data))
	return nil
}

func (d *recordingDest) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bodies)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlush_SkipsUnchangedExport(t *testing.T) {
	ctx := context.Background()
	ms := memory.New()
	if err := ms.CreateFlow(ctx, newFlow("cf-1", "Support bot")); err != nil {
		t.Fatal(err)
	}
	dest := &recordingDest{name: "rec"}
	sched := NewScheduler(ms, []Destination{dest}, time.Hour, quietLogger())

	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	// Only the header timestamp differs.
	time.Sleep(2 * time.Millisecond)
	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if n := dest.count(); n != 1 {
		t.Fatalf("writes = %d, want 1", n)
	}

	if err := ms.CreateFlow(ctx, newFlow("cf-2", "Triage")); err != nil {
		t.Fatal(err)
	}
	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("third flush: %v", err)
	}
	if n := dest.count(); n != 2 {
		t.Fatalf("writes after change = %d, want 2", n)
	}
	if lines := nonEmptyLines(string(dest.bodies[1])); len(lines) != 3 {
		t.Fatalf("export lines = %d, want 3", len(lines))
	}
}

func TestFlush_FailedDestinationRetried(t *testing.T) {
	ctx := context.Background()
	good := &recordingDest{name: "good"}
	bad := &recordingDest{name: "bad", fail: errors.New("bucket unreachable")}
	sched := NewScheduler(memory.New(), []Destination{good, bad}, time.Hour, quietLogger())

	err := sched.Flush(ctx)
	if err == nil {
		t.Fatal("expected error from failing destination")
	}
	if got := err.Error(); got != "bad: bucket unreachable" {
		t.Errorf("error = %q", got)
	}

	bad.mu.Lock()
	bad.fail = nil
	bad.mu.Unlock()
	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if good.count() != 1 || bad.count() != 1 {
		t.Fatalf("writes good=%d bad=%d, want 1 each", good.count(), bad.count())
	}
}

func TestScheduler_StartFlushesImmediately(t *testing.T) {
	dest := &recordingDest{name: "rec"}
	sched := NewScheduler(memory.New(), []Destination{dest}, time.Hour, quietLogger())
	sched.Start()

	deadline := time.Now().Add(2 * time.Second)
	for dest.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sched.Stop()

	if dest.count() != 1 {
		t.Fatalf("writes = %d, want 1", dest.count())
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	NewScheduler(memory.New(), nil, time.Minute, nil).Stop()
}

func TestBodyDigest_IgnoresHeader(t *testing.T) {
	a := []byte(`{"type":"header","timestamp":"2026-01-01T00:00:00Z"}` + "\n" + `{"type":"flow"}` + "\n")
	b := []byte(`{"type":"header","timestamp":"2026-02-01T00:00:00Z"}` + "\n" + `{"type":"flow"}` + "\n")
	c := []byte(`{"type":"header","timestamp":"2026-02-01T00:00:00Z"}` + "\n" + `{"type":"flow","x":1}` + "\n")
	if bodyDigest(a) != bodyDigest(b) {
		t.Error("header change altered digest")
	}
	if bodyDigest(b) == bodyDigest(c) {
		t.Error("body change kept digest")
	}
}

func TestZstdRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte(`{"type":"flow","data":{"id":"cf-1"}}`+"\n"), 200)
	packed, err := compressZstd(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(packed) >= len(data) {
		t.Fatalf("expected compression, got %d >= %d bytes", len(packed), len(data))
	}
	out, err := DecompressZstd(packed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestObjectKey(t *testing.T) {
	if got := objectKey("flowcanvas/flows.jsonl", true); got != "flowcanvas/flows.jsonl.zst" {
		t.Errorf("compressed key = %q", got)
	}
	if got := objectKey("flowcanvas/flows.jsonl", false); got != "flowcanvas/flows.jsonl" {
		t.Errorf("plain key = %q", got)
	}
}
