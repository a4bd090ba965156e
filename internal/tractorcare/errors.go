package tractorcare

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout marks a request that exhausted its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrUnreachable marks a transport-level failure before any response.
	ErrUnreachable = errors.New("network unreachable")
)

// ServerError is a response the server produced and rejected with.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server rejected: %d: %s", e.StatusCode, e.Message)
}

// DecodeError is a payload that failed schema validation or field decoding.
type DecodeError struct {
	Endpoint string
	Detail   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Endpoint, e.Detail)
}

func classifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func transientTransportError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
