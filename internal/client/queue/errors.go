package queue

import "errors"

var (
	// ErrInvalidCommand is returned by Enqueue for unknown or malformed commands.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrCommandNotFound is returned when a command id is not in the queue.
	ErrCommandNotFound = errors.New("command not found")

	// ErrAttemptsExhausted is returned by MarkSyncing once the attempt ceiling is reached.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
)
