package market

import "errors"

var (
	// ErrNoData means every provider failed and no usable cached value
	// exists. It is a typed outcome for callers, not a control-flow panic.
	ErrNoData = errors.New("no market data available")

	// ErrStreamExhausted marks the push channel as permanently stopped
	// after the reconnect budget ran out. The engine keeps serving through
	// polling when this happens.
	ErrStreamExhausted = errors.New("stream reconnect attempts exhausted")
)
