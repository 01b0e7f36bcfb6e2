package bus

import "errors"

var (
	// ErrBusShutdown is returned by publish and subscribe calls attempted
	// after Shutdown.
	ErrBusShutdown = errors.New("imc: bus is shut down")

	// ErrUnknownSubscription is returned when a caller passes a
	// *Subscription this bus did not create.
	ErrUnknownSubscription = errors.New("imc: subscription not recognised by this bus")
)
