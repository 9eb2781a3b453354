package consts

import "time"

// Signal admission limits (per source, per rate window)
const (
	// TerminalSignalsPerWindow is the terminal hook budget
	TerminalSignalsPerWindow = 10
	// IDESignalsPerWindow is the editor integration budget
	IDESignalsPerWindow = 2
	// ManualSignalsPerWindow is the manual CLI budget
	ManualSignalsPerWindow = 5
	// RateWindow is the sliding window the budgets apply to
	RateWindow = 1 * time.Second
)

// Debounce windows
const (
	// IDEDebounce is the minimum spacing between IDE signals for one project
	IDEDebounce = 30 * time.Second
	// SwitchSettle is how long a project switch waits for a newer target
	SwitchSettle = 10 * time.Second
	// PrioritySlot is the window in which signal sources are ranked
	PrioritySlot = 1 * time.Second
)

// Session lifecycle defaults
const (
	// DefaultIdleTimeout pauses a session after this much inactivity
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultSleepThreshold is the wall/monotonic drift treated as host sleep
	DefaultSleepThreshold = 5 * time.Minute
	// DefaultTickInterval is the idle/sleep monitor period
	DefaultTickInterval = 60 * time.Second
	// DefaultFlushInterval is the heartbeat period
	DefaultFlushInterval = 5 * time.Minute
	// MaxSessionDuration is the hard cap on a session's elapsed time
	MaxSessionDuration = 48 * time.Hour
	// WarnSessionDuration triggers a one-time soft warning
	WarnSessionDuration = 12 * time.Hour
)

// Persistence retry limits
const (
	// DefaultStoreRetries is the number of retries for a failed flush
	DefaultStoreRetries = 5
	// DefaultStoreRetryInitial is the first backoff interval
	DefaultStoreRetryInitial = 100 * time.Millisecond
	// DefaultStoreRetryMax caps a single backoff interval
	DefaultStoreRetryMax = 2 * time.Second
)

// IPC limits
const (
	// MailboxSize bounds the processor queue
	MailboxSize = 256
	// MaxConnections bounds concurrent IPC clients
	MaxConnections = 32
	// MaxMessageSize bounds one newline-delimited JSON message
	MaxMessageSize = 64 * 1024
	// SocketPermissions is the unix socket file mode
	SocketPermissions = 0o600
	// ResolverCacheSize bounds the raw path resolution cache
	ResolverCacheSize = 512
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout2Minutes is a 2 minute timeout
	Timeout2Minutes = 2 * time.Minute
)
