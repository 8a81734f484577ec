package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrFeedExhausted       = errors.New("feed reconnect attempts exhausted")
	ErrMarketNotResolvable = errors.New("market not resolvable")
	ErrUnknownVariant      = errors.New("unknown strategy variant")
	ErrUnknownInstance     = errors.New("unknown strategy instance")
)
