// Package actor provides the mailbox runtime the tracker uses to serialize
// every state change through a single goroutine.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/tempo/internal/logger"
)

var (
	// ErrStopped is returned when sending to a stopped actor.
	ErrStopped = errors.New("actor is stopped")
	// ErrMailboxFull is returned by Send when the mailbox has no room.
	ErrMailboxFull = errors.New("mailbox is full")
)

// Message represents a message sent to an actor
type Message interface {
	Type() string
}

// Actor represents an actor in the actor model
type Actor interface {
	// Receive processes incoming messages
	Receive(ctx context.Context, msg Message) error
	// Start starts the actor
	Start(ctx context.Context) error
	// Stop stops the actor gracefully
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ActorRef is a reference to a running actor for sending messages
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
	exited  chan struct{}
	mu      sync.RWMutex
	stopped bool
	health  *HealthCheckable
}

// NewActorRef creates a new actor reference with the given mailbox size.
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	ref := &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	ref.health = NewHealthCheckable(id, ref.mailbox, actor)
	return ref
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send enqueues msg without blocking.
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()
	if ref.stopped {
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("%s: %w", ref.id, ErrMailboxFull)
	}
}

// SendContext enqueues msg, waiting for room until ctx is done or the actor stops.
func (ref *ActorRef) SendContext(ctx context.Context, msg Message) error {
	ref.mu.RLock()
	if ref.stopped {
		ref.mu.RUnlock()
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	}
	// Holding the read lock keeps Stop from closing the loop under us;
	// Stop takes the write lock only to flip the flag.
	select {
	case ref.mailbox <- msg:
		ref.mu.RUnlock()
		return nil
	default:
	}
	ref.mu.RUnlock()

	select {
	case ref.mailbox <- msg:
		return nil
	case <-ref.done:
		return fmt.Errorf("%s: %w", ref.id, ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the actor's message processing loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ref.cancel = cancel

	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.health.markStarted()
	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop refuses new messages, lets the loop drain what is already queued and
// then stops the actor.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	close(ref.done)
	ref.mu.Unlock()

	if ref.cancel != nil {
		ref.cancel()
	}

	finished := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued messages.
func (ref *ActorRef) Depth() int {
	return len(ref.mailbox)
}

// Exited is closed once the loop has drained and returned. A caller waiting
// for a reply should also wait on Exited.
func (ref *ActorRef) Exited() <-chan struct{} {
	return ref.exited
}

// Health returns the actor's current health report.
func (ref *ActorRef) Health() HealthReport {
	return ref.health.GenerateHealthReport()
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()
	defer close(ref.exited)

	for {
		select {
		case <-ctx.Done():
			ref.drain()
			return
		case msg := <-ref.mailbox:
			ref.deliver(ctx, msg)
		}
	}
}

// drain processes whatever was queued before Stop. The actor gets a fresh
// context since the loop context is already cancelled.
func (ref *ActorRef) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-ref.mailbox:
			ref.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (ref *ActorRef) deliver(ctx context.Context, msg Message) {
	ref.health.RecordActivity()
	if req, ok := msg.(HealthCheckRequest); ok {
		req.ResponseChan <- HealthCheckResponse{Report: ref.health.GenerateHealthReport()}
		return
	}
	if err := ref.actor.Receive(ctx, msg); err != nil {
		logger.Error("Actor %s error processing %s: %v", ref.id, msg.Type(), err)
		ref.health.RecordError(err)
	}
}

// System manages a collection of actors
type System struct {
	actors map[string]*ActorRef
	order  []string
	mu     sync.RWMutex
}

// NewSystem creates a new actor system
func NewSystem() *System {
	return &System{
		actors: make(map[string]*ActorRef),
	}
}

// Spawn creates and starts a new actor
func (s *System) Spawn(ctx context.Context, id string, actor Actor, mailboxSize int) (*ActorRef, error) {
	ref := NewActorRef(id, actor, mailboxSize)
	if err := s.Register(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// Register starts a ref created with NewActorRef and adds it to the system.
// Use it when the actor needs its own ref before the first message arrives.
func (s *System) Register(ctx context.Context, ref *ActorRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actors[ref.ID()]; exists {
		return fmt.Errorf("actor with id %s already exists", ref.ID())
	}
	if err := ref.Start(ctx); err != nil {
		return err
	}

	s.actors[ref.ID()] = ref
	s.order = append(s.order, ref.ID())
	return nil
}

// Get retrieves an actor reference by ID
func (s *System) Get(id string) (*ActorRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.actors[id]
	return ref, ok
}

// HealthCheck reports on every actor in the system
func (s *System) HealthCheck() map[string]HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make(map[string]HealthReport, len(s.actors))
	for id, ref := range s.actors {
		reports[id] = ref.Health()
	}
	return reports
}

// StopAll stops actors in reverse spawn order.
func (s *System) StopAll(ctx context.Context) error {
	s.mu.Lock()
	refs := make([]*ActorRef, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		refs = append(refs, s.actors[s.order[i]])
	}
	s.actors = make(map[string]*ActorRef)
	s.order = nil
	s.mu.Unlock()

	var errs []error
	for _, ref := range refs {
		if err := ref.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", ref.ID(), err))
		}
	}
	return errors.Join(errs...)
}
