package hub

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Settings struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	InvokeTimeout     time.Duration
	HeartbeatInterval time.Duration

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	// Zero retries forever.
	MaxReconnectAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          5 * time.Second,
		InvokeTimeout:         10 * time.Second,
		HeartbeatInterval:     15 * time.Second,
		InitialReconnectDelay: 500 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		MaxReconnectAttempts:  10,
	}
}

func (s Settings) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialReconnectDelay
	b.MaxInterval = s.MaxReconnectDelay
	b.Reset()

	return b
}
