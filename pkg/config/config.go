package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LLM     LLMConfig
	Judge   JudgeConfig
	Pool    PoolConfig
	Novelty NoveltyConfig
	Curate  CurateConfig
	Augment AugmentConfig
	Seed    SeedConfig
	Loop    LoopConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Neo4j   Neo4jConfig
	Server  ServerConfig
	Logging LoggingConfig
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Seed        int
	TimeoutSec  int

	BreakerMaxFailures int
	BreakerTimeoutSec  int
}

type JudgeConfig struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Repeat       int
}

type PoolConfig struct {
	Size       int
	Parallel   bool
	Scheme     string
	SchemeFile string
	Thresholds map[string]float64
}

type NoveltyConfig struct {
	Variant   string
	Metric    string
	Threshold float64
	Segmenter string
}

type CurateConfig struct {
	TextKey   string
	IntentKey string
	MaxLength int
	Indent    int
}

type AugmentConfig struct {
	Repeat     int
	Resume     bool
	Rewriters  []string
	OutputPath string
}

type SeedConfig struct {
	MappingFile  string
	Sheet        string
	QueryColumn  int
	IntentColumn int
	MaxQueries   int
	Count        int
	RandomSeed   uint64
	OutputPath   string
	MinRelevance int
}

type LoopConfig struct {
	TrainFile    string
	TestFile     string
	WorkDir      string
	MaxIter      int
	AugThreshold float64
	Metric       string
	TrainCommand []string
	ServeModel   string
	ServeBaseURL string
}

type SQLiteConfig struct {
	Path    string
	Enabled bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Enabled  bool
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	DataDir      string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
}

// Load reads .env (if present), then curator.yaml from path or the default
// search locations, then CURATOR_* environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("curator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/intent-curator")
	}

	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 1.5)
	v.SetDefault("llm.maxTokens", 200)
	v.SetDefault("llm.seed", 42)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.breakerMaxFailures", 5)
	v.SetDefault("llm.breakerTimeoutSec", 30)

	v.SetDefault("judge.model", "gpt-4o")
	v.SetDefault("judge.temperature", 1.0)
	v.SetDefault("judge.maxTokens", 200)
	v.SetDefault("judge.maxAttempts", 10)
	v.SetDefault("judge.initialDelay", 200*time.Millisecond)
	v.SetDefault("judge.maxDelay", 5*time.Second)
	v.SetDefault("judge.repeat", 1)

	v.SetDefault("pool.size", 10)
	v.SetDefault("pool.parallel", false)
	v.SetDefault("pool.scheme", "intent")
	v.SetDefault("pool.thresholds", map[string]float64{"correct": 7, "natural": 7})

	v.SetDefault("novelty.variant", "rouge-l")
	v.SetDefault("novelty.metric", "r")
	v.SetDefault("novelty.threshold", 0.7)
	v.SetDefault("novelty.segmenter", "mixed")

	v.SetDefault("curate.textKey", "input")
	v.SetDefault("curate.intentKey", "query")
	v.SetDefault("curate.maxLength", 100)
	v.SetDefault("curate.indent", 0)

	v.SetDefault("augment.repeat", 5)
	v.SetDefault("augment.resume", true)
	v.SetDefault("augment.rewriters", []string{"lazy", "implicit"})

	v.SetDefault("seed.sheet", "")
	v.SetDefault("seed.queryColumn", 0)
	v.SetDefault("seed.intentColumn", 1)
	v.SetDefault("seed.maxQueries", 3)
	v.SetDefault("seed.count", 100)
	v.SetDefault("seed.randomSeed", 42)
	v.SetDefault("seed.minRelevance", 7)

	v.SetDefault("loop.workDir", "./data/loop")
	v.SetDefault("loop.maxIter", 10)
	v.SetDefault("loop.augThreshold", 0.02)
	v.SetDefault("loop.metric", "f1_score")

	v.SetDefault("sqlite.path", "./data/curator.db")
	v.SetDefault("sqlite.enabled", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.enabled", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.dataDir", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("logging.maxSizeMB", 10)
	v.SetDefault("logging.maxBackups", 3)
}
