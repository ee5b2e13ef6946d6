package ws

import "time"

// Options carries the per-endpoint connection settings shared by every
// channel handler.
type Options struct {
	AllowedOrigins     []string
	MaxMessageSize     int64
	RateBurst          int
	RateRefillInterval time.Duration
}

// DefaultOptions returns the settings used when a service supplies none.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins:     []string{"http://localhost:8080"},
		MaxMessageSize:     4096,
		RateBurst:          20,
		RateRefillInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = def.AllowedOrigins
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.RateBurst <= 0 {
		o.RateBurst = def.RateBurst
	}
	if o.RateRefillInterval <= 0 {
		o.RateRefillInterval = def.RateRefillInterval
	}
	return o
}
