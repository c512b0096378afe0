package meta

import "time"

type Config struct {
	Retries      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TxRetries    int   // optimistic transaction retries on WATCH conflicts
	AccessLogCap int64 // max access events kept in the log list
}

func DefaultConfig() *Config {
	return &Config{
		Retries:      3,
		TxRetries:    16,
		AccessLogCap: 100000,
	}
}
