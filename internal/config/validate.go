package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.SmartAPI.APIKey == "" {
		return errors.New("smartapi.api_key is required")
	}
	if c.SmartAPI.ClientCode == "" {
		return errors.New("smartapi.client_code is required")
	}

	for _, m := range c.Upstream.Modes {
		if m < 1 || m > 3 {
			return fmt.Errorf("upstream.modes entries must be between 1 and 3, got %d", m)
		}
	}
	if c.Upstream.ReconnectBase > c.Upstream.ReconnectMax {
		return fmt.Errorf("upstream.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Upstream.ReconnectBase, c.Upstream.ReconnectMax)
	}
	if c.Upstream.MaxReconnects < 1 {
		return errors.New("upstream.max_reconnect_attempts must be >= 1")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if len(c.Instruments) == 0 {
		return errors.New("instruments table must contain at least one entry")
	}
	seen := make(map[string]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.Token == "" {
			return fmt.Errorf("instruments[%d].token is required", i)
		}
		if inst.Symbol == "" {
			return fmt.Errorf("instruments[%d].symbol is required", i)
		}
		if inst.Exchange == "" {
			return fmt.Errorf("instruments[%d].exchange is required", i)
		}
		if prev, dup := seen[inst.Token]; dup {
			return fmt.Errorf("instruments token %q mapped to both %q and %q", inst.Token, prev, inst.Symbol)
		}
		seen[inst.Token] = inst.Symbol
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
