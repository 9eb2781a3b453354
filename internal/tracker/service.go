package tracker

import (
	"context"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/monitor"
	"github.com/codefionn/tempo/internal/session"
)

// Service is the concurrency-safe handle to a running processor.
type Service struct {
	ref *actor.ActorRef
}

// Spawn starts proc inside sys and returns its handle.
func Spawn(ctx context.Context, sys *actor.System, proc *Processor) (*Service, error) {
	ref := actor.NewActorRef(proc.ID(), proc, consts.MailboxSize)
	proc.self = ref
	if err := sys.Register(ctx, ref); err != nil {
		return nil, err
	}
	return &Service{ref: ref}, nil
}

func call[T any](ctx context.Context, ref *actor.ActorRef, msg actor.Message, reply chan T) (T, error) {
	var zero T
	if err := ref.SendContext(ctx, msg); err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-ref.Exited():
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, actor.ErrStopped
		}
	}
}

// Activity submits an admitted signal for target and waits until it is
// applied and persisted, held as a pending switch, or dropped.
func (s *Service) Activity(ctx context.Context, sig session.Signal, target Target) error {
	reply := make(chan error, 1)
	res, err := call(ctx, s.ref, activityMsg{signal: sig, target: target, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Control runs a manual command and returns the resulting status.
func (s *Service) Control(ctx context.Context, cmd Command) (Status, error) {
	reply := make(chan commandResult, 1)
	res, err := call(ctx, s.ref, commandMsg{cmd: cmd, reply: reply}, reply)
	if err != nil {
		return Status{}, err
	}
	return res.status, res.err
}

// Tick forwards a monitor tick without waiting for it to be handled.
func (s *Service) Tick(ctx context.Context, tick monitor.Tick) error {
	return s.ref.SendContext(ctx, tickMsg{tick: tick})
}

// Heartbeat persists last activity and heartbeats for open sessions.
func (s *Service) Heartbeat(ctx context.Context) error {
	reply := make(chan error, 1)
	res, err := call(ctx, s.ref, heartbeatMsg{reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Reconfigure applies reloaded settings.
func (s *Service) Reconfigure(ctx context.Context, cfg Reconfig) error {
	return s.ref.SendContext(ctx, reconfigureMsg{cfg: cfg})
}

// Shutdown closes every open session and flushes. Later requests fail with ErrClosed.
func (s *Service) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	res, err := call(ctx, s.ref, shutdownMsg{reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Health returns the processor's health report.
func (s *Service) Health() actor.HealthReport {
	return s.ref.Health()
}
