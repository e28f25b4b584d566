package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL                 string             `mapstructure:"url"`
		Realtime            ConsumerNatsConfig `mapstructure:"realtime"`
		Historical          ConsumerNatsConfig `mapstructure:"historical"`
		DLQStream           string             `mapstructure:"dlqStream"`
		DLQSubject          string             `mapstructure:"dlqSubject"`
		DLQWorkers          int                `mapstructure:"dlqWorkers"`
		DLQBaseDelayMinutes int                `mapstructure:"dlqBaseDelayMinutes"`
		DLQMaxDelayMinutes  int                `mapstructure:"dlqMaxDelayMinutes"`
		DLQMaxAgeDays       int                `mapstructure:"dlqMaxAgeDays"`
		DLQMaxDeliver       int                `mapstructure:"dlqMaxDeliver"`
		DLQAckWait          time.Duration      `mapstructure:"dlqAckWait"`
		DLQMaxAckPending    int                `mapstructure:"dlqMaxAckPending"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Org struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"org"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Attribution WorkerPoolConfig `mapstructure:"attribution"`
		Training    WorkerPoolConfig `mapstructure:"training"`
	} `mapstructure:"workerPools"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	MMM         MMMConfig         `mapstructure:"mmm"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// AttributionConfig holds org-independent attribution defaults. Per-org model
// configs stored in the database override these.
type AttributionConfig struct {
	DefaultModel         string  `mapstructure:"defaultModel"`
	LookbackWindowDays   int     `mapstructure:"lookbackWindowDays"`
	HalfLifeDays         float64 `mapstructure:"halfLifeDays"`
	FirstTouchWeight     float64 `mapstructure:"firstTouchWeight"`
	LastTouchWeight      float64 `mapstructure:"lastTouchWeight"`
	SweepIntervalMinutes int     `mapstructure:"sweepIntervalMinutes"` // Pending-conversion sweep cadence
	SweepBatchSize       int     `mapstructure:"sweepBatchSize"`       // Max conversions requeued per sweep
}

// MMMConfig holds defaults for marketing mix model training and optimization
type MMMConfig struct {
	Regularization     float64 `mapstructure:"regularization"`
	OptimizerSteps     int     `mapstructure:"optimizerSteps"`
	OptimizerTolerance float64 `mapstructure:"optimizerTolerance"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// DLQ worker defaults
	v.SetDefault("nats.dlqWorkers", 8)
	v.SetDefault("nats.dlqBaseDelayMinutes", 1)
	v.SetDefault("nats.dlqMaxDelayMinutes", 15)
	v.SetDefault("nats.dlqMaxAgeDays", 7)
	v.SetDefault("nats.dlqMaxDeliver", 5)
	v.SetDefault("nats.dlqAckWait", 30*time.Second)
	v.SetDefault("nats.dlqMaxAckPending", 100)

	// Worker pool defaults
	v.SetDefault("workerPools.attribution.poolSize", 10)
	v.SetDefault("workerPools.attribution.queueSize", 10000)
	v.SetDefault("workerPools.attribution.maxBlock", time.Second)
	v.SetDefault("workerPools.attribution.expiryTime", time.Minute)
	v.SetDefault("workerPools.training.poolSize", 2)
	v.SetDefault("workerPools.training.queueSize", 100)
	v.SetDefault("workerPools.training.maxBlock", 5*time.Second)
	v.SetDefault("workerPools.training.expiryTime", 5*time.Minute)

	// Attribution defaults
	v.SetDefault("attribution.defaultModel", "linear")
	v.SetDefault("attribution.lookbackWindowDays", 30)
	v.SetDefault("attribution.halfLifeDays", 7.0)
	v.SetDefault("attribution.firstTouchWeight", 0.4)
	v.SetDefault("attribution.lastTouchWeight", 0.4)
	v.SetDefault("attribution.sweepIntervalMinutes", 5)
	v.SetDefault("attribution.sweepBatchSize", 100)

	// MMM defaults
	v.SetDefault("mmm.regularization", 1.0)
	v.SetDefault("mmm.optimizerSteps", 200)
	v.SetDefault("mmm.optimizerTolerance", 1e-6)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.attribution-engine")
	v.AddConfigPath("/etc/attribution-engine")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if org := os.Getenv("ORG_ID"); org != "" {
		v.Set("org.id", org)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldv := ifv.Field(i)
		t := ift.Field(i)
		name := strings.ToLower(t.Name)
		tag, ok := t.Tag.Lookup("mapstructure")
		if ok {
			name = tag
		}
		path := append(parts, name)
		switch fieldv.Kind() {
		case reflect.Struct:
			bindEnvs(v, fieldv.Interface(), path...)
		default:
			_ = v.BindEnv(strings.Join(path, "."))
		}
	}
}
