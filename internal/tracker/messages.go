package tracker

import (
	"time"

	"github.com/codefionn/tempo/internal/monitor"
	"github.com/codefionn/tempo/internal/session"
)

// Op names a control command.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpPause   Op = "pause"
	OpResume  Op = "resume"
	OpSwitch  Op = "switch"
	OpStatus  Op = "status"
	OpArchive Op = "archive"
)

// Command is a manual control request. Target is required for switch and
// archive; start without a target resumes the focused project.
type Command struct {
	Op       Op
	Target   *Target
	Context  session.Context
	Archived bool
}

// Reconfig carries reloaded settings into the processor.
type Reconfig struct {
	Settings     Settings
	IDEDebounce  time.Duration
	SwitchSettle time.Duration
	Retry        RetryPolicy
}

type commandResult struct {
	status Status
	err    error
}

type activityMsg struct {
	signal session.Signal
	target Target
	reply  chan error
}

func (activityMsg) Type() string { return "activity" }

type commandMsg struct {
	cmd   Command
	reply chan commandResult
}

func (commandMsg) Type() string { return "command" }

type tickMsg struct {
	tick monitor.Tick
}

func (tickMsg) Type() string { return "tick" }

type heartbeatMsg struct {
	reply chan error
}

func (heartbeatMsg) Type() string { return "heartbeat" }

// settleMsg fires when a held project switch may be applied.
type settleMsg struct{}

func (settleMsg) Type() string { return "settle" }

type reconfigureMsg struct {
	cfg Reconfig
}

func (reconfigureMsg) Type() string { return "reconfigure" }

type shutdownMsg struct {
	reply chan error
}

func (shutdownMsg) Type() string { return "shutdown" }
