package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration. Keys map to the YAML file and
// to FACEGATE_* environment variables (dots become underscores).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Camera    CameraConfig    `mapstructure:"camera"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DBConfig selects the gorm dialect. Driver is one of sqlite, postgres, mysql.
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EmbeddingConfig struct {
	Dimension int `mapstructure:"dimension"`
}

// MatcherConfig holds the decision parameters shared by every call site.
type MatcherConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	ScorePolicy   string  `mapstructure:"score_policy"`   // raw | zero_below_threshold
	Search        string  `mapstructure:"search"`         // bruteforce | hnsw
	FaceSelection string  `mapstructure:"face_selection"` // first | largest | all
	HNSWNeighbors int     `mapstructure:"hnsw_neighbors"`
}

// ExtractorConfig points at the feature extraction service.
type ExtractorConfig struct {
	Kind    string        `mapstructure:"kind"` // grpc | http
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
	Model   string        `mapstructure:"model"`
	DetSize int           `mapstructure:"det_size"`
}

type GalleryConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// RedisConfig is optional; an empty Addr keeps the gallery version in process.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	GalleryKey string `mapstructure:"gallery_key"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// AuthConfig guards enrollment routes when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// CameraConfig selects the capture device: an index such as "0" or a stream URL.
type CameraConfig struct {
	Device string `mapstructure:"device"`
	Window string `mapstructure:"window"`
}

// Load reads an optional .env file, then the optional YAML file at path, then
// environment overrides, on top of the defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FACEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher.threshold must be in (0, 1], got %v", c.Matcher.Threshold)
	}
	switch c.Matcher.ScorePolicy {
	case "raw", "zero_below_threshold":
	default:
		return fmt.Errorf("matcher.score_policy %q is not supported", c.Matcher.ScorePolicy)
	}
	switch c.Matcher.Search {
	case "bruteforce", "hnsw":
	default:
		return fmt.Errorf("matcher.search %q is not supported", c.Matcher.Search)
	}
	switch c.Matcher.FaceSelection {
	case "first", "largest", "all":
	default:
		return fmt.Errorf("matcher.face_selection %q is not supported", c.Matcher.FaceSelection)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	switch c.Extractor.Kind {
	case "grpc", "http":
	default:
		return fmt.Errorf("extractor.kind %q is not supported", c.Extractor.Kind)
	}
	return nil
}

// setDefaults registers every key. Unmarshal only consults the environment for
// keys viper already knows, so a key without a default cannot come from env.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "face_db.sqlite")

	v.SetDefault("embedding.dimension", 512)

	v.SetDefault("matcher.threshold", 0.45)
	v.SetDefault("matcher.score_policy", "raw")
	v.SetDefault("matcher.search", "bruteforce")
	v.SetDefault("matcher.face_selection", "first")
	v.SetDefault("matcher.hnsw_neighbors", 16)

	v.SetDefault("extractor.kind", "grpc")
	v.SetDefault("extractor.addr", "localhost:50051")
	v.SetDefault("extractor.timeout", 10*time.Second)
	v.SetDefault("extractor.model", "buffalo_l")
	v.SetDefault("extractor.det_size", 640)

	v.SetDefault("gallery.refresh_interval", time.Duration(0))

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.gallery_key", "facegate:gallery:version")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "facegate")
	v.SetDefault("mqtt.topic", "facegate/recognitions")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")

	v.SetDefault("camera.device", "0")
	v.SetDefault("camera.window", "facegate")
}
