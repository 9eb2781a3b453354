package socketserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/project"
	"github.com/codefionn/tempo/internal/ratelimit"
	"github.com/codefionn/tempo/internal/session"
	"github.com/codefionn/tempo/internal/tracker"
)

// Backend applies signals and commands. *tracker.Service implements it.
type Backend interface {
	Activity(ctx context.Context, sig session.Signal, target tracker.Target) error
	Control(ctx context.Context, cmd tracker.Command) (tracker.Status, error)
	Health() actor.HealthReport
}

// Resolver maps raw paths to projects. *project.Resolver implements it.
type Resolver interface {
	Resolve(rawPath string) (project.Resolution, error)
}

// Options configure a Server.
type Options struct {
	Path           string
	Mode           os.FileMode
	MaxConnections int
	// RequestTimeout bounds how long a request waits for the tracker.
	RequestTimeout time.Duration
	Limiter        *ratelimit.Limiter
	// OnShutdown is called once after a shutdown request was acknowledged.
	OnShutdown func()
}

// Server represents the Unix socket server
type Server struct {
	opts     Options
	hub      *Hub
	backend  Backend
	resolver atomic.Pointer[resolverBox]
	listener net.Listener
	started  time.Time
	now      func() time.Time

	// Connection tracking
	connMu    sync.RWMutex
	clients   map[string]*Client
	connCount int

	// Control
	mu           sync.Mutex
	running      bool
	stopChan     chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	acceptDone   chan struct{}

	// Connection ID counter
	connIDCounter atomic.Int64
}

type resolverBox struct {
	r Resolver
}

// NewServer creates a new Unix socket server
func NewServer(backend Backend, resolver Resolver, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = consts.MaxConnections
	}
	if opts.Mode == 0 {
		opts.Mode = consts.SocketPermissions
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = consts.Timeout5Seconds
	}
	s := &Server{
		opts:       opts,
		hub:        NewHub(),
		backend:    backend,
		clients:    make(map[string]*Client),
		stopChan:   make(chan struct{}),
		acceptDone: make(chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.SetResolver(resolver)
	return s
}

// SetResolver swaps the resolver, e.g. after a configuration reload.
func (s *Server) SetResolver(r Resolver) {
	s.resolver.Store(&resolverBox{r: r})
}

func (s *Server) currentResolver() Resolver {
	return s.resolver.Load().r
}

// Start starts the Unix socket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.opts.Path == "" {
		return fmt.Errorf("socket path is not configured")
	}

	absPath, err := s.prepareSocketPath(s.opts.Path)
	if err != nil {
		return fmt.Errorf("failed to prepare socket path: %w", err)
	}
	s.opts.Path = absPath

	// A stale socket from a crashed daemon; the lockfile guarantees no live owner.
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	listener, err := net.Listen("unix", absPath)
	if err != nil {
		return fmt.Errorf("failed to listen on Unix socket %s: %w", absPath, err)
	}
	if err := os.Chmod(absPath, s.opts.Mode); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = listener

	s.started = time.Now()
	go s.hub.Run()
	go s.acceptLoop(ctx)

	logger.Info("Unix socket server started on %s (max connections: %d)", absPath, s.opts.MaxConnections)
	return nil
}

// Stop stops accepting connections, tells connected clients the daemon is
// going away and closes them.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		logger.Info("Stopping Unix socket server...")
		close(s.stopChan)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !isClosedError(err) {
				logger.Error("Error closing socket listener: %v", err)
			}
			<-s.acceptDone
		}

		s.hub.Broadcast(NewMessage(MessageTypeClosed, map[string]interface{}{"reason": "daemon shutting down"}))
		// Give the write pumps a moment to deliver the notice.
		time.Sleep(50 * time.Millisecond)
		s.hub.Shutdown()

		if s.opts.Path != "" {
			if err := os.Remove(s.opts.Path); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove socket file %s: %v", s.opts.Path, err)
			}
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		logger.Info("Unix socket server stopped")
	})

	return nil
}

// prepareSocketPath expands and validates the socket path
func (s *Server) prepareSocketPath(socketPath string) (string, error) {
	absPath, err := filepath.Abs(socketPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	parentDir := filepath.Dir(absPath)
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create parent directory %s: %w", parentDir, err)
	}

	return absPath, nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.acceptDone)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Accept loop stopped via context cancellation")
			return
		case <-s.stopChan:
			return
		default:
		}

		// Accept timeout to check stopChan periodically
		if ul, ok := s.listener.(*net.UnixListener); ok {
			ul.SetDeadline(time.Now().Add(consts.Timeout1Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if isClosedError(err) {
				return
			}
			logger.Error("Error accepting connection: %v", err)
			continue
		}

		if !s.checkConnectionLimit() {
			logger.Warn("Connection limit reached, rejecting connection")
			rejectConnection(conn)
			continue
		}

		clientID := fmt.Sprintf("conn_%d", s.connIDCounter.Add(1))
		client := NewClient(clientID, conn, s.hub, s)
		s.trackClient(clientID, client)
		client.Start(ctx)
	}
}

func rejectConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(consts.Timeout1Second))
	data, err := encodeLine(NewError("", ErrorCodeBusy, "Too many connections", ""))
	if err == nil {
		conn.Write(data)
	}
}

// checkConnectionLimit checks if we can accept more connections
func (s *Server) checkConnectionLimit() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connCount < s.opts.MaxConnections
}

// trackClient adds a client to tracking
func (s *Server) trackClient(clientID string, client *Client) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.clients[clientID] = client
	s.connCount++
}

// untrackClient removes a client from tracking
func (s *Server) untrackClient(clientID string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if _, ok := s.clients[clientID]; ok {
		delete(s.clients, clientID)
		s.connCount--
	}
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connCount
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.opts.Path
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		if s.opts.OnShutdown != nil {
			go s.opts.OnShutdown()
		}
	})
}

// isClosedError checks if an error indicates a closed listener
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
