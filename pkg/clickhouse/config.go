package clickhouse

import "time"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds ClickHouse connection settings.
type ClientConfig struct {
	Addr     []string
	Database string
	User     string
	Password string
	HTTP     bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// Settings are sent with every query, e.g. async_insert or max_execution_time.
	Settings map[string]interface{}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Database:        "default",
		User:            "default",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		Settings:        map[string]interface{}{},
	}
}

// WithAddr adds a host:port to connect to.
func WithAddr(addr string) ClientOption {
	return func(c *ClientConfig) { c.Addr = append(c.Addr, addr) }
}

// WithAuth sets the database and the credentials used for it.
func WithAuth(database, user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.Database = database
		c.User = user
		c.Password = password
	}
}

// WithHTTP uses the HTTP interface instead of the native protocol.
func WithHTTP(on bool) ClientOption {
	return func(c *ClientConfig) { c.HTTP = on }
}

// WithPool sizes the connection pool.
func WithPool(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
	}
}

// WithTimeouts sets dial and read timeouts.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DialTimeout = dial
		c.ReadTimeout = read
	}
}

// WithSetting sets a server setting for every query. A nil value removes it.
func WithSetting(name string, value interface{}) ClientOption {
	return func(c *ClientConfig) {
		if value == nil {
			delete(c.Settings, name)
			return
		}
		c.Settings[name] = value
	}
}
