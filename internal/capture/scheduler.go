// Package capture owns the phone-side capture loop: device acquisition,
// periodic frame submission, in-flight gating, duplicate suppression and
// cooldown pacing.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panelbase/comicscan/pkg/protocol"
)

// State is a scheduler lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"     // device acquired, timer running
	StateCapturing State = "capturing" // one submission outstanding
	StateCooldown  State = "cooldown"  // post-success pause
)

// ErrBusy is returned by ScanOnce while another submission is outstanding.
var ErrBusy = errors.New("capture: scan already in flight")

// ErrNotStarted is returned by ScanOnce before Start has acquired a device.
var ErrNotStarted = errors.New("capture: scheduler not started")

// Decoder is the external decode capability seen from the scheduler.
type Decoder interface {
	Decode(ctx context.Context, frame []byte) (protocol.Item, error)
}

// Sink receives successfully decoded, deduplicated items. The relay link
// implements it; tests substitute their own.
type Sink interface {
	Relay(item protocol.Item) error
}

// Config holds the scheduler's protocol parameters. The two timeouts are not
// implementation details: the continuous loop runs short so a stuck
// submission costs at most one tick window, and the manual path runs roughly
// double because a human is waiting on the answer.
type Config struct {
	Interval      time.Duration // frame submission tick
	ScanTimeout   time.Duration // continuous-loop submission deadline
	ManualTimeout time.Duration // single-shot submission deadline
	Cooldown      time.Duration // pause after a successful new scan
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 3 * time.Second
	}
	if c.ManualTimeout <= 0 {
		c.ManualTimeout = 2 * c.ScanTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2500 * time.Millisecond
	}
}

// Scheduler runs the continuous capture loop. The inFlight flag is the sole
// concurrency control: at most one submission is outstanding, ticks that land
// while one is pending are dropped, never queued.
type Scheduler struct {
	cfg  Config
	dev  Device
	dec  Decoder
	sink Sink

	mu       sync.Mutex
	state    State
	src      FrameSource
	lastKey  string
	inFlight bool
	cancel   context.CancelFunc
	ticker   *time.Ticker
	cooldown *time.Timer
	count    int
}

// NewScheduler wires the scheduler to its device, decoder and sink.
func NewScheduler(cfg Config, dev Device, dec Decoder, sink Sink) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:   cfg,
		dev:   dev,
		dec:   dec,
		sink:  sink,
		state: StateIdle,
	}
}

// Start acquires the capture device and begins the tick loop. On device
// failure the scheduler stays idle and the error is surfaced; the user
// retries Start. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	src, err := s.dev.Acquire(ctx)
	if err != nil {
		var de *DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &DeviceError{Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateIdle {
		// Lost the race with a concurrent Start.
		s.mu.Unlock()
		cancel()
		src.Close()
		return nil
	}
	s.src = src
	s.cancel = cancel
	s.ticker = time.NewTicker(s.cfg.Interval)
	s.state = StateArmed
	ticker := s.ticker
	s.mu.Unlock()

	go s.loop(runCtx, ticker)
	slog.Info("capture scheduler armed", "interval", s.cfg.Interval)
	return nil
}

// Stop cancels the timer, aborts any in-flight submission and releases the
// device. Safe to call any number of times, in any state; it runs on every
// exit path, not only on success.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateIdle && s.src == nil {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.inFlight = false
	s.lastKey = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	src := s.src
	s.src = nil
	s.mu.Unlock()

	if src != nil {
		src.Close()
	}
	slog.Info("capture scheduler stopped")
}

// ScanOnce is the manual single-shot path: one frame, the longer timeout,
// and errors surfaced to the caller instead of swallowed.
func (s *Scheduler) ScanOnce(ctx context.Context) (protocol.Item, error) {
	s.mu.Lock()
	if s.src == nil {
		s.mu.Unlock()
		return protocol.Item{}, ErrNotStarted
	}
	if s.inFlight {
		s.mu.Unlock()
		return protocol.Item{}, ErrBusy
	}
	s.inFlight = true
	src := s.src
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	frame, err := src.Frame(ctx)
	if err != nil {
		return protocol.Item{}, fmt.Errorf("capture frame: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ManualTimeout)
	defer cancel()

	item, err := s.dec.Decode(scanCtx, NormalizeFrame(frame))
	if err != nil {
		return protocol.Item{}, err
	}

	s.accept(item, false)
	return item, nil
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Count returns the number of items relayed since Start.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// --- Internal loop ---

func (s *Scheduler) loop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick snapshots one frame and submits it. Backpressure is by dropping:
// a tick that fires while a submission is outstanding is a no-op.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateArmed || s.inFlight {
		s.mu.Unlock()
		return
	}
	src := s.src
	s.mu.Unlock()

	frame, err := src.Frame(ctx)
	if err != nil {
		// Swallowed: the next tick tries again.
		slog.Debug("frame snapshot failed", "error", err)
		return
	}
	frame = NormalizeFrame(frame)

	s.mu.Lock()
	if s.state != StateArmed || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.state = StateCapturing
	s.mu.Unlock()

	go s.submit(ctx, frame)
}

func (s *Scheduler) submit(ctx context.Context, frame []byte) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	item, err := s.dec.Decode(scanCtx, frame)
	s.complete(item, err)
}

// complete clears inFlight on every path. Decode failures and timeouts in the
// continuous loop are swallowed so the next tick proceeds unaffected.
func (s *Scheduler) complete(item protocol.Item, err error) {
	s.mu.Lock()
	s.inFlight = false
	if s.state != StateCapturing {
		// Stopped while the submission was outstanding.
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state = StateArmed
		s.mu.Unlock()
		slog.Debug("decode attempt failed", "error", err)
		return
	}
	if item.UPC == s.lastKey {
		// Same physical item still in frame; drop locally, no relay.
		s.state = StateArmed
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.accept(item, true)
}

// accept records a new identity key and relays the item. The continuous loop
// additionally pauses in cooldown so one comic is not scanned twice while the
// user reaches for the next.
func (s *Scheduler) accept(item protocol.Item, enterCooldown bool) {
	s.mu.Lock()
	if item.UPC == s.lastKey {
		if s.state == StateCapturing {
			s.state = StateArmed
		}
		s.mu.Unlock()
		return
	}
	s.lastKey = item.UPC
	s.count++
	if enterCooldown && s.ticker != nil {
		s.state = StateCooldown
		s.ticker.Stop()
		s.cooldown = time.AfterFunc(s.cfg.Cooldown, s.endCooldown)
	} else if s.state == StateCapturing {
		s.state = StateArmed
	}
	sink := s.sink
	s.mu.Unlock()

	slog.Info("item scanned", "upc", item.UPC)
	if sink != nil {
		// Fire-and-forget: relay loss is acceptable, the human rescans.
		if err := sink.Relay(item); err != nil {
			slog.Warn("relay submission failed", "upc", item.UPC, "error", err)
		}
	}
}

// endCooldown clears the duplicate-suppression key and resumes the timer.
func (s *Scheduler) endCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCooldown {
		return
	}
	s.lastKey = ""
	s.cooldown = nil
	if s.ticker != nil {
		s.ticker.Reset(s.cfg.Interval)
	}
	s.state = StateArmed
}
