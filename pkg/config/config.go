package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"MarketMaker/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Logger      logger.Config `yaml:"logger"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Session  Session  `yaml:"session"`
	Exchange Exchange `yaml:"exchange"`
	Engine   Engine   `yaml:"engine"`
	Backend  struct {
		Type        string `yaml:"type" default:"kafka" validate:"oneof=kafka nats none"`
		EventsTopic string `yaml:"events_topic" default:"mm.events"`
		LogsTopic   string `yaml:"logs_topic" default:"mm.logs"`
	} `yaml:"backend"`
	Kafka      Kafka      `yaml:"kafka"`
	NATS       NATS       `yaml:"nats"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
	Redis      Redis      `yaml:"redis"`
}

// Session identifies one trading run.
type Session struct {
	ID           string `yaml:"id"`
	Scenario     string `yaml:"scenario" default:"normal_market" validate:"required"`
	Mode         string `yaml:"mode" default:"live" validate:"oneof=live replay"`
	ProfilesDir  string `yaml:"profiles_dir" default:"configs/profiles"`
	PersistEvery int64  `yaml:"persist_every" default:"100" validate:"gt=0"`
}

// Exchange holds the simulator endpoints and credentials.
type Exchange struct {
	Host             string        `yaml:"host" default:"localhost:8080" validate:"required"`
	Secure           bool          `yaml:"secure"`
	StudentID        string        `yaml:"student_id"`
	Password         string        `yaml:"password"`
	MarketPath       string        `yaml:"market_path" default:"/api/ws/market"`
	OrderPath        string        `yaml:"order_path" default:"/api/ws/orders"`
	RegisterPath     string        `yaml:"register_path" default:"/api/replays/%s/start"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" default:"10s"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay" default:"2s"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"20s"`
	MaxReconnects    int           `yaml:"max_reconnects" default:"5" validate:"gte=0"`
	OrdersPerSecond  int           `yaml:"orders_per_second" default:"50" validate:"gt=0"`
	RegisterRetries  int           `yaml:"register_retries" default:"3" validate:"gte=0"`
}

// Engine holds the decision-core tunables.
type Engine struct {
	QueueSize  int `yaml:"queue_size" default:"1024" validate:"gt=0"`
	DepthFloor int `yaml:"depth_floor" default:"200" validate:"gte=0"`
	Windows    struct {
		Short  int `yaml:"short" default:"10" validate:"gt=0"`
		Medium int `yaml:"medium" default:"100" validate:"gtefield=Short"`
		Long   int `yaml:"long" default:"500" validate:"gtefield=Medium"`
	} `yaml:"windows"`
	Cusum struct {
		Slack     float64 `yaml:"slack" default:"0.5" validate:"gte=0"`
		Threshold float64 `yaml:"threshold" default:"3.0" validate:"gt=0"`
	} `yaml:"cusum"`
	Spike struct {
		Ratio    float64 `yaml:"ratio" default:"1.5" validate:"gt=1"`
		Duration int     `yaml:"duration" default:"4" validate:"gt=0"`
	} `yaml:"spike"`
	Regime struct {
		Cooldown                int     `yaml:"cooldown" default:"50" validate:"gte=0"`
		Persistence             int     `yaml:"persistence" default:"15" validate:"gt=0"`
		ExitCrashPersistence    int     `yaml:"exit_crash_persistence" default:"20" validate:"gt=0"`
		ExitStressedPersistence int     `yaml:"exit_stressed_persistence" default:"20" validate:"gt=0"`
		DeadSpread              float64 `yaml:"dead_spread" default:"0.01" validate:"gte=0"`
		DeadDepth               float64 `yaml:"dead_depth" default:"200" validate:"gte=0"`
	} `yaml:"regime"`
	Orders struct {
		MaxOpen         int     `yaml:"max_open" default:"50" validate:"gt=0"`
		CancelThreshold int     `yaml:"cancel_threshold" default:"45" validate:"gt=0,ltefield=MaxOpen"`
		StaleAge        int64   `yaml:"stale_age" default:"200" validate:"gt=0"`
		StaleEvery      int64   `yaml:"stale_every" default:"50" validate:"gt=0"`
		DriftTicks      float64 `yaml:"drift_ticks" default:"4" validate:"gte=0"`
	} `yaml:"orders"`
	Risk struct {
		HardLimit int `yaml:"hard_limit" default:"4800" validate:"gt=0"`
	} `yaml:"risk"`
	Breaker struct {
		Threshold int   `yaml:"threshold" default:"5" validate:"gt=0"`
		Cooldown  int64 `yaml:"cooldown" default:"200" validate:"gte=0"`
	} `yaml:"breaker"`
}

type Kafka struct {
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequiredAcks int      `yaml:"required_acks" default:"1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	ReplayTopic  string   `yaml:"replay_topic" default:"mm.snapshots"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"market-maker"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type NATS struct {
	URL           string        `yaml:"url" default:"nats://127.0.0.1:4222"`
	Name          string        `yaml:"name" default:"market-maker"`
	Prefix        string        `yaml:"prefix" default:"mm"`
	JetStream     bool          `yaml:"jetstream"`
	Stream        string        `yaml:"stream" default:"MM_EVENTS"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" default:"2s"`
	MaxReconnects int           `yaml:"max_reconnects" default:"-1"`
}

type ClickHouse struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"marketmaker"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type Redis struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"mm:"`
	TTL      time.Duration `yaml:"ttl" default:"24h"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads an optional .env file, then the YAML config, and overrides with environment
// variables. Validation runs after the overrides.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("EXCHANGE_HOST"); v != "" {
		c.Exchange.Host = v
	}
	if v := os.Getenv("EXCHANGE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Exchange.Secure = b
		}
	}
	if v := os.Getenv("STUDENT_ID"); v != "" {
		c.Exchange.StudentID = v
	}
	if v := os.Getenv("STUDENT_PASSWORD"); v != "" {
		c.Exchange.Password = v
	}
	if v := os.Getenv("SESSION_ID"); v != "" {
		c.Session.ID = v
	}
	if v := os.Getenv("SCENARIO"); v != "" {
		c.Session.Scenario = v
	}
	if v := os.Getenv("SESSION_MODE"); v != "" {
		c.Session.Mode = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Backend.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when backend.type is kafka")
	}
	if c.Session.Mode == "replay" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("replay mode reads snapshots from kafka; kafka.brokers cannot be empty")
	}
	if c.Exchange.StudentID == "" && c.Session.Mode == "live" {
		return fmt.Errorf("exchange.student_id is required in live mode")
	}
	return nil
}
