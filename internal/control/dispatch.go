package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/internal/pipeline"
)

// Controller drives listening sessions
type Controller interface {
	Start(ctx context.Context) (pipeline.Status, error)
	Stop() pipeline.Status
	Toggle(ctx context.Context) (pipeline.Status, error)
	Status() pipeline.Status
}

// Events is the set of pipeline streams a subscriber can follow
type Events interface {
	OnTranscript(fn func(pipeline.TranscriptResult)) func()
	OnLifecycle(fn func(pipeline.LifecycleEvent)) func()
	OnError(fn func(pipeline.ErrorEvent)) func()
	OnWarning(fn func(pipeline.Warning)) func()
	OnLevel(fn func(pipeline.LevelEvent)) func()
}

// Error codes reported in responses
const (
	CodeNotConfigured     = "not_configured"
	CodePermissionDenied  = "permission_denied"
	CodeDeviceUnavailable = "device_unavailable"
	CodeAlreadyActive     = "already_active"
	CodeStartCancelled    = "start_cancelled"
	CodeUnknownCommand    = "unknown_command"
	CodeInternal          = "internal"
)

// ErrUnknownCommand is returned for commands the daemon does not recognise
var ErrUnknownCommand = errors.New("unknown command")

// ErrorCode classifies a start failure
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pipeline.ErrNotConfigured):
		return CodeNotConfigured
	case errors.Is(err, audio.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return CodeDeviceUnavailable
	case errors.Is(err, pipeline.ErrAlreadyActive):
		return CodeAlreadyActive
	case errors.Is(err, pipeline.ErrStartCancelled):
		return CodeStartCancelled
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	default:
		return CodeInternal
	}
}

// Execute runs one session command against c
func Execute(ctx context.Context, c Controller, cmd string) (Response, error) {
	var (
		st  pipeline.Status
		err error
	)
	switch cmd {
	case CmdToggle:
		st, err = c.Toggle(ctx)
	case CmdStart:
		st, err = c.Start(ctx)
	case CmdStop:
		st = c.Stop()
	case CmdStatus:
		st = c.Status()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
		return Response{Error: err.Error(), Code: CodeUnknownCommand}, err
	}

	resp := responseFromStatus(st)
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
		resp.Code = ErrorCode(err)
	}
	return resp, err
}
