package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// Destination receives the JSONL export of the flow store.
type Destination interface {
	// Name identifies the destination in logs and errors.
	Name() string
	// Write replaces the destination's copy of the export with data.
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the store to its destinations on a fixed interval.
// A destination is only written when the flows or events changed since
// its last successful write.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex        // serializes Flush
	written map[string]uint64 // destination name -> body digest

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler writing to destinations every interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger.With("component", "sync"),
		written:      make(map[string]uint64),
	}
}

// Start flushes once immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for an in-flight flush.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush exports the store and writes it to every destination whose last
// written body differs. Destination failures are joined into the result;
// a failed destination is retried on the next flush.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()
	sum := bodyDigest(data)

	var errs []error
	wrote := 0
	for _, dest := range s.destinations {
		name := dest.Name()
		if prev, ok := s.written[name]; ok && prev == sum {
			continue
		}
		if err := dest.Write(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.written[name] = sum
		wrote++
		s.logger.Debug("sync destination written", "destination", name, "bytes", len(data))
	}

	if wrote > 0 {
		s.logger.Info("sync completed", "written", wrote, "destinations", len(s.destinations), "bytes", len(data))
	}
	return errors.Join(errs...)
}

// bodyDigest hashes everything after the header line, whose timestamp
// changes on every export.
func bodyDigest(data []byte) uint64 {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return xxhash.Sum64(data)
}
