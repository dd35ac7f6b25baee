package wsf

import (
	"errors"
	"fmt"
)

var (
	// ErrBufPoolConfig indicates an empty or zero-sized pool descriptor list.
	ErrBufPoolConfig = errors.New("invalid buffer pool configuration")
	// ErrBufPoolTooSmall indicates the backing memory cannot hold the requested layout.
	ErrBufPoolTooSmall = errors.New("buffer pool memory too small")
	// ErrBufNotOwned indicates a free of memory that no pool handed out.
	ErrBufNotOwned = errors.New("buffer not owned by any pool")
	// ErrBufDoubleFree indicates a free of a block that is already on its free list.
	ErrBufDoubleFree = errors.New("buffer already free")

	ErrTimerArenaFull = errors.New("timer arena exhausted")
	// ErrTimerMisuse indicates a timer started on two services or a corrupt
	// active list.
	ErrTimerMisuse = errors.New("timer misuse")

	ErrUnknownHandler   = errors.New("unknown handler")
	ErrHandlerTableFull = errors.New("handler table full")
	ErrQueueFull        = errors.New("message queue full")
)

// AssertError is the panic value raised for configuration errors and
// programmer misuse. These are never recovered inside the runtime.
type AssertError struct {
	Err error
	Msg string
}

func (e *AssertError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("wsf assert: %v", e.Err)
	}
	return fmt.Sprintf("wsf assert: %v: %s", e.Err, e.Msg)
}

func (e *AssertError) Unwrap() error {
	return e.Err
}

// Assert panics with an *AssertError wrapping err when cond is false.
func Assert(cond bool, err error, format string, args ...any) {
	if !cond {
		panic(&AssertError{Err: err, Msg: fmt.Sprintf(format, args...)})
	}
}
