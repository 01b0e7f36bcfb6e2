package bus

import "github.com/coremodular/imc/imclog"

// DefaultPanicLogger builds a PanicHandler that logs recovered handler
// panics at ERROR through logger, tagged with the "bus" subsystem, the
// topic id, and the subscription id -- the shape callers that don't want
// to write their own PanicHandler can hand to Pump.
func DefaultPanicLogger(logger imclog.Logger) PanicHandler {
	if logger == nil {
		logger = imclog.Noop
	}
	return func(subscriptionID uint64, topicID uint32, recovered any) {
		logger.Error("subscription handler panicked",
			"subsystem", "bus",
			"topic_id", topicID,
			"subscription_id", subscriptionID,
			"recovered", recovered,
		)
	}
}
