package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/ratelimit"
	"github.com/codefionn/tempo/internal/session"
)

// ProcessorID is the actor id of the tracker processor.
const ProcessorID = "tracker"

// ErrClosed is returned for requests that arrive after shutdown.
var ErrClosed = errors.New("tracker is shut down")

type pendingActivity struct {
	signal session.Signal
	target Target
}

// Processor is the single writer of the session state. It owns the engine,
// the switch debouncer and the persistence writer, and handles one message
// at a time from its mailbox.
type Processor struct {
	engine    *Engine
	writer    *Writer
	debouncer *ratelimit.Debouncer[pendingActivity]
	now       func() time.Time
	log       *logger.Logger

	self   *actor.ActorRef
	timer  *time.Timer
	closed bool
}

// ProcessorOption customizes a processor.
type ProcessorOption func(*Processor)

// WithClock replaces the wall clock used for commands and settle deadlines.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor around engine and writer.
func NewProcessor(engine *Engine, writer *Writer, ideDebounce, switchSettle time.Duration, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engine:    engine,
		writer:    writer,
		debouncer: ratelimit.NewDebouncer[pendingActivity](ideDebounce, switchSettle),
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Global().WithPrefix("tracker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) ID() string { return ProcessorID }

func (p *Processor) Start(ctx context.Context) error {
	p.log.Debug("Processor started with %d open sessions", len(p.engine.OpenSessions()))
	return nil
}

func (p *Processor) Stop(ctx context.Context) error {
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}

// Health reports degraded while writes are buffered.
func (p *Processor) Health() (actor.HealthStatus, string) {
	if p.writer.Degraded() {
		return actor.HealthStatusDegraded, fmt.Sprintf("store unavailable, %d writes buffered", p.writer.Buffered())
	}
	return actor.HealthStatusHealthy, ""
}

func (p *Processor) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case activityMsg:
		err := p.activity(ctx, m.signal, m.target)
		m.reply <- err
		return nil
	case commandMsg:
		st, err := p.command(ctx, m.cmd)
		m.reply <- commandResult{status: st, err: err}
		return nil
	case tickMsg:
		if p.closed {
			return nil
		}
		ch := p.engine.Tick(m.tick.Now, m.tick.Sleep)
		p.logEvents()
		return p.writer.Flush(ctx, ch)
	case heartbeatMsg:
		err := p.writer.Heartbeat(ctx, p.engine.OpenSessions(), p.now())
		if m.reply != nil {
			m.reply <- err
		}
		return err
	case settleMsg:
		return p.settle(ctx)
	case reconfigureMsg:
		p.engine.SetSettings(m.cfg.Settings)
		p.debouncer.SetWindows(m.cfg.IDEDebounce, m.cfg.SwitchSettle)
		p.writer.SetPolicy(m.cfg.Retry)
		p.log.Info("Settings reloaded (linked=%v)", m.cfg.Settings.Linked)
		return nil
	case shutdownMsg:
		m.reply <- p.shutdown(ctx)
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type())
	}
}

func (p *Processor) activity(ctx context.Context, sig session.Signal, target Target) error {
	if p.closed {
		return ErrClosed
	}
	focused := p.engine.Focused()
	if p.engine.IsOpen(target.Key) {
		focused = target.Key
	}

	decision, deadline := p.debouncer.Offer(sig.Source, target.Key, focused, sig.At, pendingActivity{signal: sig, target: target})
	switch decision {
	case ratelimit.Drop:
		p.log.Debug("Debounced %s signal for %s", sig.Source, target.Path)
		return nil
	case ratelimit.Defer:
		p.scheduleSettle(deadline)
		p.log.Debug("Holding switch to %s until %s", target.Path, deadline.Format(time.RFC3339))
		return nil
	}
	if p.timer != nil {
		if _, _, ok := p.debouncer.Pending(); !ok {
			p.timer.Stop()
		}
	}
	return p.apply(ctx, sig, target)
}

// apply returns ErrSuperseded or ErrProjectArchived for a signal the engine
// dropped; nothing was changed in that case.
func (p *Processor) apply(ctx context.Context, sig session.Signal, target Target) error {
	ch, err := p.engine.Activity(target, sig.Source, sig.At)
	if err != nil {
		if IsDropped(err) {
			p.log.Debug("Dropped %s signal for %s: %v", sig.Source, target.Path, err)
		}
		return err
	}
	p.logEvents()
	return p.writer.Flush(ctx, ch)
}

func (p *Processor) scheduleSettle(deadline time.Time) {
	if p.self == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delay := deadline.Sub(p.now())
	if delay < 0 {
		delay = 0
	}
	ref := p.self
	p.timer = time.AfterFunc(delay, func() {
		if err := ref.Send(settleMsg{}); err != nil && !errors.Is(err, actor.ErrStopped) {
			p.log.Warn("Failed to deliver settle deadline: %v", err)
		}
	})
}

func (p *Processor) settle(ctx context.Context) error {
	if p.closed {
		return nil
	}
	pending, ok := p.debouncer.Settle(p.now())
	if !ok {
		if _, deadline, held := p.debouncer.Pending(); held {
			p.scheduleSettle(deadline)
		}
		return nil
	}
	p.log.Info("Switching to %s after settle window", pending.target.Path)
	if err := p.apply(ctx, pending.signal, pending.target); err != nil && !IsDropped(err) {
		return err
	}
	return nil
}

func (p *Processor) command(ctx context.Context, cmd Command) (Status, error) {
	now := p.now()
	if cmd.Op == OpStatus {
		return p.status(now), nil
	}
	if p.closed {
		return p.status(now), ErrClosed
	}

	var (
		ch  Changes
		err error
	)
	switch cmd.Op {
	case OpStart, OpSwitch:
		p.debouncer.Cancel()
		target := cmd.Target
		if target == nil {
			if cmd.Op == OpSwitch {
				return p.status(now), errors.New("switch requires a project")
			}
			t, ok := p.engine.FocusedTarget()
			if !ok {
				return p.status(now), ErrNoActiveSession
			}
			target = &t
		}
		ctxKind := cmd.Context
		if ctxKind == "" {
			ctxKind = session.ContextManual
		}
		if cmd.Op == OpStart {
			ch, err = p.engine.Start(*target, ctxKind, now)
		} else {
			ch, err = p.engine.Switch(*target, ctxKind, now)
		}
	case OpStop:
		p.debouncer.Cancel()
		ch, err = p.engine.Stop(now)
	case OpPause:
		ch, err = p.engine.Pause(now)
	case OpResume:
		ch, err = p.engine.Resume(now)
	case OpArchive:
		if cmd.Target == nil {
			return p.status(now), errors.New("archive requires a project")
		}
		ch = p.engine.SetArchived(*cmd.Target, cmd.Archived, now)
	default:
		return p.status(now), fmt.Errorf("unknown command %q", cmd.Op)
	}
	if err != nil {
		return p.status(now), err
	}

	p.logEvents()
	err = p.writer.Flush(ctx, ch)
	return p.status(now), err
}

func (p *Processor) status(now time.Time) Status {
	st := p.engine.Status(now)
	if key, _, ok := p.debouncer.Pending(); ok {
		st.PendingSwitch = key
		if proj, known := p.engine.Project(key); known {
			st.PendingSwitch = proj.Path
		}
	}
	st.Degraded = p.writer.Degraded()
	st.BufferedWrites = p.writer.Buffered()
	return st
}

func (p *Processor) shutdown(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.debouncer.Cancel()
	if p.timer != nil {
		p.timer.Stop()
	}
	ch := p.engine.CloseAll(p.now())
	if n := len(ch.Sessions); n > 0 {
		p.log.Info("Closing %d open session(s) for shutdown", n)
	}
	return p.writer.Flush(ctx, ch)
}

func (p *Processor) logEvents() {
	for _, ev := range p.engine.DrainEvents() {
		switch ev.Kind {
		case "max_duration", "long_session":
			p.log.Warn("%s: %s (%s)", ev.Kind, ev.Project, ev.Detail)
		default:
			p.log.Info("%s: %s (%s)", ev.Kind, ev.Project, ev.Detail)
		}
	}
}
