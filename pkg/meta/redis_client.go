package meta

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisTarget is a parsed meta address.
type redisTarget struct {
	hosts    []string
	master   string // sentinel master name, empty otherwise
	db       int
	username string
	password string
	tls      bool
}

func (t *redisTarget) mode() string {
	switch {
	case t.master != "":
		return "sentinel"
	case len(t.hosts) > 1:
		return "cluster"
	}
	return "single-node"
}

// parseRedisAddr understands
//
//	127.0.0.1:6379/1                          single node, DB 1
//	10.0.0.1:6379,10.0.0.2:6379/0             cluster
//	mymaster,10.0.0.1:26379,10.0.0.2:26379/1  sentinel
//
// optionally preceded by user:password@ and by redis:// or rediss:// (TLS).
// Without a password in addr REDIS_PASSWORD, then META_PASSWORD, is used.
func parseRedisAddr(addr string) (*redisTarget, error) {
	scheme := "redis"
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme, addr = addr[:i], addr[i+3:]
	}
	if scheme != "redis" && scheme != "rediss" {
		return nil, fmt.Errorf("unsupported meta scheme %q", scheme)
	}
	u, err := url.Parse(scheme + "://" + addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address format: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redis address %q has no host", addr)
	}

	// ParseURL takes a single host; it is only used for the DB and credentials
	hosts := strings.Split(u.Host, ",")
	single := *u
	single.Host = hosts[len(hosts)-1]
	opt, err := redis.ParseURL(single.String())
	if err != nil {
		return nil, fmt.Errorf("could not parse redis URL: %w", err)
	}

	t := &redisTarget{
		hosts:    hosts,
		db:       opt.DB,
		username: opt.Username,
		password: opt.Password,
		tls:      scheme == "rediss",
	}
	if t.password == "" {
		t.password = os.Getenv("REDIS_PASSWORD")
	}
	if t.password == "" {
		t.password = os.Getenv("META_PASSWORD")
	}
	if len(hosts) > 1 && !strings.Contains(hosts[0], ":") {
		t.master, t.hosts = hosts[0], hosts[1:]
	}
	return t, nil
}

func newRedisClient(addr string, conf *Config) (redis.UniversalClient, int, error) {
	target, err := parseRedisAddr(addr)
	if err != nil {
		return nil, 0, err
	}
	opts := &redis.UniversalOptions{
		Addrs:        target.hosts,
		MasterName:   target.master,
		DB:           target.db,
		Username:     target.username,
		Password:     target.password,
		MaxRetries:   conf.Retries,
		PoolSize:     100,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = -1 // 0 would mean the client default
	}
	if target.tls {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	logger.Infof("connecting to %s redis at %v (db %d, tls=%v)", target.mode(), target.hosts, target.db, target.tls)

	rdb := redis.NewUniversalClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, 0, fmt.Errorf("failed to connect to redis at %v: %w", target.hosts, err)
	}
	return rdb, target.db, nil
}
