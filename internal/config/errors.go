package config

import "errors"

// Sentinel errors for configuration loading. Load wraps these with the
// offending key so callers can still match with errors.Is.
var (
	ErrMissingOrigins = errors.New("production mode requires allowed_origins")
	ErrBadICEServers  = errors.New("ice_servers must be a JSON array")
	ErrBadLimit       = errors.New("value must be positive")
	ErrBadPath        = errors.New("ws_path must start with /")
	ErrBadLogLevel    = errors.New("log_level must be one of debug, info, warn, error")
)
