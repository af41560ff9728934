package grpcserver

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

// reason tags the status message so clients can restore the sentinel.
type reason struct {
	tag      string
	code     codes.Code
	sentinel error
}

var reasons = []reason{
	{"validation", codes.InvalidArgument, element.ErrValidation},
	{"invalid_transition", codes.FailedPrecondition, element.ErrInvalidTransition},
	{"request_closed", codes.FailedPrecondition, workqueue.ErrRequestClosed},
	{"duplicate", codes.AlreadyExists, workqueue.ErrDuplicateWork},
	{"not_owned", codes.PermissionDenied, workqueue.ErrNotOwned},
	{"deferred", codes.Aborted, workqueue.ErrDeferred},
	{"conflict", codes.Aborted, elementstore.ErrConflict},
	{"not_found", codes.NotFound, elementstore.ErrNotFound},
	{"not_local", codes.FailedPrecondition, workqueues.ErrNotLocal},
	{"no_feed", codes.Unimplemented, workqueues.ErrNoFeed},
}

// ToStatus maps a service error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	for _, r := range reasons {
		if errors.Is(err, r.sentinel) {
			return status.Error(r.code, r.tag+": "+err.Error())
		}
	}
	var unknown *workload.UnknownDatasetError
	if errors.As(err, &unknown) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// RemoteError is a server error decoded by a client. It matches the
// sentinel the server classified it under.
type RemoteError struct {
	Code     codes.Code
	Message  string
	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Is(target error) bool { return e.sentinel != nil && target == e.sentinel }

func (e *RemoteError) GRPCStatus() *status.Status { return status.New(e.Code, e.Message) }

// FromStatus turns a gRPC status error back into a RemoteError. Context
// errors and non-status errors are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	out := &RemoteError{Code: st.Code(), Message: st.Message()}
	for _, r := range reasons {
		if r.code == st.Code() && strings.HasPrefix(st.Message(), r.tag+": ") {
			out.sentinel = r.sentinel
			out.Message = strings.TrimPrefix(st.Message(), r.tag+": ")
			break
		}
	}
	return out
}
