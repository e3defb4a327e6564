package device

import (
	"context"
	"errors"
	"time"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/bt"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/ftms"
)

var ErrUnknownCommand = errors.New("unknown command")

// ErrorKind classifies command and connection failures. The command loop
// decides between retry and drop by switching on it.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindNotConnected
	KindNotFound
	KindProtocol
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindNotConnected:
		return "not connected"
	case KindNotFound:
		return "not found"
	case KindProtocol:
		return "protocol"
	default:
		return "other"
	}
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case bt.IsTransient(err):
		return KindTransient
	case errors.Is(err, bt.ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, bt.ErrDeviceNotFound), errors.Is(err, context.DeadlineExceeded):
		return KindNotFound
	case errors.Is(err, ftms.ErrShortBuffer), errors.Is(err, ftms.ErrNotResponse), errors.Is(err, ErrUnknownCommand):
		return KindProtocol
	default:
		return KindOther
	}
}

// CommandError is published for every command the loop gave up on.
type CommandError struct {
	Device  string
	Command Command
	Kind    ErrorKind
	Err     error
	Time    time.Time
}

func (e CommandError) Error() string {
	return e.Device + ": " + e.Command.String() + " dropped (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e CommandError) Unwrap() error {
	return e.Err
}
