package socketserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/project"
	"github.com/codefionn/tempo/internal/session"
	"github.com/codefionn/tempo/internal/tracker"
)

var controlOps = map[string]tracker.Op{
	MessageTypeStart:   tracker.OpStart,
	MessageTypeStop:    tracker.OpStop,
	MessageTypePause:   tracker.OpPause,
	MessageTypeResume:  tracker.OpResume,
	MessageTypeSwitch:  tracker.OpSwitch,
	MessageTypeStatus:  tracker.OpStatus,
	MessageTypeArchive: tracker.OpArchive,
}

// dispatch answers one request. Every request gets exactly one response.
func (s *Server) dispatch(ctx context.Context, msg *BaseMessage) *BaseMessage {
	switch msg.Type {
	case MessageTypePing:
		return NewResponse(MessageTypePong, msg.RequestID, nil)
	case MessageTypeActivity:
		return s.handleActivity(ctx, msg)
	case MessageTypeShutdown:
		return NewResponse(MessageTypeAck, msg.RequestID, map[string]interface{}{"shutting_down": true})
	}
	if op, ok := controlOps[msg.Type]; ok {
		return s.handleControl(ctx, op, msg)
	}
	return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Unknown message type", msg.Type)
}

func (s *Server) handleActivity(ctx context.Context, msg *BaseMessage) *BaseMessage {
	var req ActivityRequest
	if err := decodeData(msg.Data, &req); err != nil {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Invalid activity data", err.Error())
	}
	source, err := session.ParseSource(req.Source)
	if err != nil {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Invalid source", err.Error())
	}
	if req.ProjectPath == "" {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Missing project_path", "")
	}

	// Receipt time orders events; the client timestamp is informational.
	now := s.now()
	if s.opts.Limiter != nil && !s.opts.Limiter.Admit(source, now) {
		return NewResponse(MessageTypeAck, msg.RequestID, map[string]interface{}{
			"accepted": false,
			"reason":   "rate_limited",
		})
	}

	target, err := s.resolve(req.ProjectPath)
	if err != nil {
		return errorResponse(msg.RequestID, err)
	}

	sig := session.Signal{Source: source, Path: req.ProjectPath, At: now, ActivityType: req.ActivityType}
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	if err := s.backend.Activity(reqCtx, sig, target); err != nil {
		if reason := dropReason(err); reason != "" {
			return NewResponse(MessageTypeAck, msg.RequestID, map[string]interface{}{
				"accepted":     false,
				"reason":       reason,
				"project_path": target.Path,
			})
		}
		return errorResponse(msg.RequestID, err)
	}
	return NewResponse(MessageTypeAck, msg.RequestID, map[string]interface{}{
		"accepted":     true,
		"project_path": target.Path,
	})
}

func (s *Server) handleControl(ctx context.Context, op tracker.Op, msg *BaseMessage) *BaseMessage {
	var req ControlRequest
	if err := decodeData(msg.Data, &req); err != nil {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Invalid request data", err.Error())
	}

	cmd := tracker.Command{Op: op, Archived: true}
	if req.Archived != nil {
		cmd.Archived = *req.Archived
	}
	ctxKind, err := session.ParseContext(req.Context)
	if err != nil {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Invalid context", err.Error())
	}
	cmd.Context = ctxKind

	if req.ProjectPath != "" {
		target, err := s.resolve(req.ProjectPath)
		if err != nil {
			return errorResponse(msg.RequestID, err)
		}
		cmd.Target = &target
	} else if op == tracker.OpSwitch || op == tracker.OpArchive {
		return NewError(msg.RequestID, ErrorCodeInvalidRequest, "Missing project_path", "")
	}

	if op != tracker.OpStatus && s.opts.Limiter != nil && !s.opts.Limiter.Admit(session.SourceManual, s.now()) {
		return NewError(msg.RequestID, ErrorCodeBusy, "Rate limit exceeded", "too many manual commands")
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	status, err := s.backend.Control(reqCtx, cmd)
	if err != nil {
		return errorResponse(msg.RequestID, err)
	}

	s.decorate(&status)
	data, err := encodeData(status)
	if err != nil {
		return NewError(msg.RequestID, ErrorCodeInternalError, "Failed to encode status", err.Error())
	}
	if op == tracker.OpArchive {
		return NewResponse(MessageTypeAck, msg.RequestID, data)
	}
	return NewResponse(MessageTypeStatusResponse, msg.RequestID, data)
}

// decorate adds the daemon-level fields the tracker does not know about.
func (s *Server) decorate(st *tracker.Status) {
	if !s.started.IsZero() {
		st.UptimeSeconds = int64(time.Since(s.started) / time.Second)
	}
	if s.opts.Limiter != nil {
		st.Dropped = make(map[string]uint64)
		for src, n := range s.opts.Limiter.Dropped() {
			st.Dropped[string(src)] = n
		}
	}
	st.Health = string(s.backend.Health().Status)
}

func (s *Server) resolve(raw string) (tracker.Target, error) {
	res, err := s.currentResolver().Resolve(raw)
	if err != nil {
		return tracker.Target{}, err
	}
	return tracker.Target{
		Key:         res.Key,
		Path:        res.Path,
		Name:        res.Name,
		Fingerprint: project.Fingerprint(res.Path),
	}, nil
}

// dropReason names why the tracker discarded an activity signal, or "".
func dropReason(err error) string {
	switch {
	case errors.Is(err, tracker.ErrProjectArchived):
		return "archived"
	case errors.Is(err, tracker.ErrSuperseded):
		return "superseded"
	}
	return ""
}

// errorResponse maps tracker and transport errors onto wire error codes.
func errorResponse(requestID string, err error) *BaseMessage {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, project.ErrNotFound):
		code = ErrorCodeResolutionFailed
	case errors.Is(err, tracker.ErrNoActiveSession):
		code = ErrorCodeNoActiveSession
	case tracker.IsInvalidTransition(err):
		code = ErrorCodeInvalidTransition
	case errors.Is(err, tracker.ErrProjectArchived):
		code = ErrorCodeProjectArchived
	case errors.Is(err, tracker.ErrStoreUnavailable):
		code = ErrorCodeStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, actor.ErrMailboxFull):
		code = ErrorCodeBusy
	}
	return NewError(requestID, code, err.Error(), "")
}

func encodeLine(msg *BaseMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
