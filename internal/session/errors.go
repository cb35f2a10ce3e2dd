package session

import "errors"

var (
	// ErrEmptyMessage rejects sends whose body is empty after trimming.
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrSelfDirect rejects direct messages addressed to the local identity.
	ErrSelfDirect = errors.New("cannot send a direct message to yourself")
	// ErrUnknownRoom rejects rooms outside the configured room set.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrNoPeer rejects direct-message sends with no peer named.
	ErrNoPeer = errors.New("no peer selected")
)

// DeliveryWarning surfaces an emission failure without rolling back the
// optimistic local append: the message may or may not have reached peers, and
// the sender's own view must not desynchronize over a transport false
// negative.
type DeliveryWarning struct {
	Err error
}

func (w *DeliveryWarning) Error() string {
	return "delivery uncertain: " + w.Err.Error()
}

func (w *DeliveryWarning) Unwrap() error {
	return w.Err
}
