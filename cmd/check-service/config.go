package main

import (
	"fmt"
	"os"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/sandbox/engine"
	"gradebox/internal/check/sandbox/spec"
	"gradebox/internal/common/cache"
	"gradebox/internal/common/db"
	"gradebox/internal/common/mq"
	"gradebox/internal/common/storage"
	"gradebox/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultReportTTL       = 24 * time.Hour
	defaultWorkRoot        = "/var/lib/gradebox/work"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryTopic    string        `yaml:"retryTopic"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SourceConfig holds source download settings.
type SourceConfig struct {
	Bucket       string        `yaml:"bucket"`
	ScriptBucket string        `yaml:"scriptBucket"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"maxBytes"`
}

// ReportConfig holds report persistence settings.
type ReportConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	ClaimTTL   time.Duration `yaml:"claimTTL"`
	FinalTopic string        `yaml:"finalTopic"`
}

// CheckConfig holds checker settings.
type CheckConfig struct {
	WorkRoot       string            `yaml:"workRoot"`
	KeepWorkDir    bool              `yaml:"keepWorkDir"`
	DirMode        string            `yaml:"dirMode"`
	Timeout        time.Duration     `yaml:"timeout"`
	MaxOutputBytes int64             `yaml:"maxOutputBytes"`
	MaxLogBytes    int               `yaml:"maxLogBytes"`
	MaxOpenFiles   int64             `yaml:"maxOpenFiles"`
	MaxFileSizeKB  int64             `yaml:"maxFileSizeKB"`
	Processes      int64             `yaml:"processes"`
	CPUSeconds     int64             `yaml:"cpuSeconds"`
	MemoryMB       int64             `yaml:"memoryMB"`
	Compilers      map[string]string `yaml:"compilers"`
	JVM            string            `yaml:"jvm"`
	JVMSecure      string            `yaml:"jvmSecure"`
	Path           string            `yaml:"path"`
}

// DelegatedConfig holds delegated-user backend settings.
type DelegatedConfig struct {
	User      string `yaml:"user"`
	SudoPath  string `yaml:"sudoPath"`
	KillPath  string `yaml:"killPath"`
	ChmodPath string `yaml:"chmodPath"`
}

// ContainerConfig holds container backend settings.
type ContainerConfig struct {
	Image              string `yaml:"image"`
	Writable           bool   `yaml:"writable"`
	MapHostUIDGID      bool   `yaml:"mapHostUIDGID"`
	ExtraMountTemplate string `yaml:"extraMountTemplate"`
	HostNetwork        bool   `yaml:"hostNetwork"`
	DiscardArtifacts   bool   `yaml:"discardArtifacts"`
	MaxMemoryMB        int64  `yaml:"maxMemoryMB"`
	DockerHost         string `yaml:"dockerHost"`
	ScratchDir         string `yaml:"scratchDir"`
}

// SandboxConfig holds isolation backend settings.
type SandboxConfig struct {
	Backend        string          `yaml:"backend"`
	HelperPath     string          `yaml:"helperPath"`
	SeccompProfile string          `yaml:"seccompProfile"`
	WaitDelay      time.Duration   `yaml:"waitDelay"`
	Delegated      DelegatedConfig `yaml:"delegated"`
	Container      ContainerConfig `yaml:"container"`
}

// AppConfig holds check-service config. Database is optional; with a DSN, terminal reports are
// archived in MySQL.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Database db.MySQLConfig      `yaml:"database"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Worker   WorkerConfig        `yaml:"worker"`
	Source   SourceConfig        `yaml:"source"`
	Report   ReportConfig        `yaml:"report"`
	Check    CheckConfig         `yaml:"check"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if _, err := engine.ParseKind(cfg.Sandbox.Backend); err != nil {
		return nil, err
	}
	if _, err := parseDirMode(cfg.Check.DirMode); err != nil {
		return nil, err
	}
	cfg.Redis.ApplyDefaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Source.Bucket == "" {
		cfg.Source.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Source.ScriptBucket == "" {
		cfg.Source.ScriptBucket = cfg.Source.Bucket
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Report.TTL == 0 {
		cfg.Report.TTL = defaultReportTTL
	}
	if cfg.Report.FinalTopic == "" {
		cfg.Report.FinalTopic = "check.report.final"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "check.request"
	}
	if cfg.Kafka.RetryTopic == "" {
		cfg.Kafka.RetryTopic = cfg.Kafka.Topic
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}
	if cfg.Check.WorkRoot == "" {
		cfg.Check.WorkRoot = defaultWorkRoot
	}
	return &cfg, nil
}

func parseDirMode(raw string) (os.FileMode, error) {
	if raw == "" {
		return 0, nil
	}
	var mode uint32
	if _, err := fmt.Sscanf(raw, "%o", &mode); err != nil || mode > 0o777 {
		return 0, fmt.Errorf("invalid check.dirMode %q", raw)
	}
	return os.FileMode(mode), nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  mq.ParseCompression(k.Compression),
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	return engine.Config{
		Backend:        engine.Kind(s.Backend),
		HelperPath:     s.HelperPath,
		SeccompProfile: s.SeccompProfile,
		WaitDelay:      s.WaitDelay,
		Delegated: engine.DelegatedConfig{
			User:      s.Delegated.User,
			SudoPath:  s.Delegated.SudoPath,
			KillPath:  s.Delegated.KillPath,
			ChmodPath: s.Delegated.ChmodPath,
		},
		Container: engine.ContainerConfig{
			Image:              s.Container.Image,
			Writable:           s.Container.Writable,
			MapHostUIDGID:      s.Container.MapHostUIDGID,
			ExtraMountTemplate: s.Container.ExtraMountTemplate,
			HostNetwork:        s.Container.HostNetwork,
			DiscardArtifacts:   s.Container.DiscardArtifacts,
			MaxMemoryMB:        s.Container.MaxMemoryMB,
			DockerHost:         s.Container.DockerHost,
			ScratchDir:         s.Container.ScratchDir,
		},
	}
}

func (c CheckConfig) toCheckerConfig() checker.Config {
	cfg := checker.Config{
		Timeout:        c.Timeout,
		MaxOutputBytes: c.MaxOutputBytes,
		MaxLogBytes:    c.MaxLogBytes,
		Limits: spec.ResourceLimit{
			MaxOpenFiles:  c.MaxOpenFiles,
			MaxFileSizeKB: c.MaxFileSizeKB,
			CPUSeconds:    c.CPUSeconds,
			Processes:     c.Processes,
			MemoryMB:      c.MemoryMB,
		},
		JVM:       c.JVM,
		JVMSecure: c.JVMSecure,
		Path:      c.Path,
	}
	if len(c.Compilers) > 0 {
		cfg.Compilers = make(map[checker.Kind]string, len(c.Compilers))
		for kind, binary := range c.Compilers {
			cfg.Compilers[checker.Kind(kind)] = binary
		}
	}
	cfg.ApplyDefaults()
	return cfg
}
