package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/nats-io/nats.go"
)

// Client wraps the NATS connection used for slide broadcast with minimal
// helpers. Unlike the recognition connection, the bus reconnects on its
// own: exponential backoff capped by reconnect_max_wait_ms, bounded by
// max_reconnects.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("followspot-runtime"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return backoffDelay(cfg, attempts)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS connection lost", slog.String("error", err.Error()))
			}
		}),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		log:  log,
	}, nil
}

func backoffDelay(cfg config.BusConfig, attempts int) time.Duration {
	wait := time.Duration(cfg.ReconnectWait) * time.Millisecond
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	cap := time.Duration(cfg.ReconnectCap) * time.Millisecond
	if cap <= 0 {
		cap = 15 * time.Second
	}
	for i := 0; i < attempts && wait < cap; i++ {
		wait *= 2
	}
	if wait > cap {
		wait = cap
	}
	return wait
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}
