package bb

import "errors"

var (
	ErrUnknownProtocol = errors.New("protocol not registered")
	ErrUnknownOp       = errors.New("operation type not registered")
	ErrNoExec          = errors.New("protocol has no exec callback")
	ErrBodActive       = errors.New("bod already queued or executing")
)
