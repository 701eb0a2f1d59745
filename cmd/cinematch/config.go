package main

import "time"

type Config struct {
	APIURL            string        `env:"CINEMATCH_API_URL,default=http://localhost:5000"`
	HubURL            string        `env:"CINEMATCH_HUB_URL,default=http://localhost:5000/chathub"`
	Token             string        `env:"CINEMATCH_TOKEN,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=50"`
	CacheLimit        *int          `env:"CACHE_LIMIT"`
	ReconnectWindow   time.Duration `env:"RECONNECT_WINDOW,default=60s"`
	ReconnectMaxDelay time.Duration `env:"RECONNECT_MAX_DELAY,default=10s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT,default=15s"`
	EventBufferSize   int           `env:"EVENT_BUFFER_SIZE,default=64"`
	PollInterval      time.Duration `env:"POLL_INTERVAL,default=30s"`
	RestartDelay      time.Duration `env:"RESTART_DELAY,default=1s"`
	StrictStatus      bool          `env:"STRICT_MATCH_STATUS,default=false"`
	Colours           bool          `env:"COLOURS,default=true"`
}
