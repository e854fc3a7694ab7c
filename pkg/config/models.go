package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Dispatch  DispatchConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Address   string
	Auth      AuthConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type RateLimitConfig struct {
	// MaxConnsPerIP caps concurrent sessions per remote IP before the
	// upgrade is refused. Zero disables the limiter.
	MaxConnsPerIP int `mapstructure:"maxConnsPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	// HandshakeTimeout bounds how long a freshly upgraded connection may
	// stay unauthenticated before it is closed.
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
	SendBuffer       int           `mapstructure:"sendBuffer"`
}

type DispatchConfig struct {
	// OfferTTL is stamped into the offer's expiresAt; the gateway itself
	// runs no expiry timer.
	OfferTTL time.Duration `mapstructure:"offerTTL"`
}

type LoggingConfig struct {
	Level  string
	Format string
}
