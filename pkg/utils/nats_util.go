package utils

import (
	"fmt"
	"time"

	"rooster-auction/internal/config"
	"rooster-auction/pkg/logger"

	"github.com/nats-io/nats.go"
)

func InitializeNATS(cfg config.NATSConfig, name string, log logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}
