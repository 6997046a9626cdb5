package types

import "time"

// Direction says which way an exchange travelled.
type Direction string

const (
	// DirectionSent is a command or reply written to the worker.
	DirectionSent Direction = "sent"
	// DirectionReceived is a result batch read from the worker.
	DirectionReceived Direction = "received"
	// DirectionError is a failed read or write.
	DirectionError Direction = "error"
)

// Exchange is one transcript entry: a single send or read on a session.
type Exchange struct {
	SessionID string
	// Seq orders entries within a session, starting at 1.
	Seq       int64
	Direction Direction
	// HasVerb is false for replies sent with SendResults.
	HasVerb     bool
	Verb        any
	Groups      []Group
	Diagnostics string
	Error       string
	Ts          time.Time
}
