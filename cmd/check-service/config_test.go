package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/sandbox/engine"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
redis:
  addr: "127.0.0.1:6379"
kafka:
  brokers: ["127.0.0.1:9092"]
minio:
  bucket: submissions
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr {
		t.Fatalf("expected default addr, got %s", cfg.Server.Addr)
	}
	if cfg.Source.Bucket != "submissions" || cfg.Source.ScriptBucket != "submissions" {
		t.Fatalf("expected buckets to default to minio bucket, got %+v", cfg.Source)
	}
	if cfg.Kafka.Topic != "check.request" || cfg.Kafka.RetryTopic != "check.request" {
		t.Fatalf("unexpected topics: %s %s", cfg.Kafka.Topic, cfg.Kafka.RetryTopic)
	}
	if cfg.Worker.PoolSize != 1 || cfg.Report.TTL != defaultReportTTL {
		t.Fatalf("unexpected worker/report defaults")
	}
	if cfg.Redis.PoolSize == 0 {
		t.Fatalf("expected redis defaults to be applied")
	}
	if cfg.Check.WorkRoot != defaultWorkRoot {
		t.Fatalf("expected default work root, got %s", cfg.Check.WorkRoot)
	}
}

func TestLoadAppConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing redis", content: "kafka:\n  brokers: [\"k:9092\"]\n"},
		{name: "missing brokers", content: "redis:\n  addr: r:6379\n"},
		{name: "unknown backend", content: "redis:\n  addr: r:6379\nkafka:\n  brokers: [\"k:9092\"]\nsandbox:\n  backend: chroot\n"},
		{name: "bad dir mode", content: "redis:\n  addr: r:6379\nkafka:\n  brokers: [\"k:9092\"]\ncheck:\n  dirMode: \"rwx\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, tt.content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadAppConfigExample(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join("..", "..", "configs", "check_service.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Kafka.RetryTopic != "check.retry" || cfg.Kafka.PoolRetryMaxD != 30*time.Second {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
	if cfg.Check.Compilers["fortran"] != "gfortran" {
		t.Fatalf("unexpected compilers: %v", cfg.Check.Compilers)
	}
	mode, err := parseDirMode(cfg.Check.DirMode)
	if err != nil || mode != 0o770 {
		t.Fatalf("unexpected dir mode %o err=%v", mode, err)
	}
}

func TestConversions(t *testing.T) {
	k := KafkaConfig{Brokers: []string{"k:9092"}, Compression: "zstd", RequiredAcks: -1}
	mqCfg := k.toMQConfig()
	if mqCfg.Compression != kafka.Zstd || mqCfg.RequiredAcks != kafka.RequireAll {
		t.Fatalf("unexpected mq config: %+v", mqCfg)
	}

	s := SandboxConfig{Backend: "container", Delegated: DelegatedConfig{User: "checker"}, Container: ContainerConfig{Image: "img", MaxMemoryMB: 256}}
	engCfg := s.toEngineConfig()
	if engCfg.Backend != engine.KindContainer || engCfg.Container.Image != "img" || engCfg.Container.MaxMemoryMB != 256 || engCfg.Delegated.User != "checker" {
		t.Fatalf("unexpected engine config: %+v", engCfg)
	}

	c := CheckConfig{Timeout: 5 * time.Second, Processes: 32, Compilers: map[string]string{"c": "clang"}}
	checkCfg := c.toCheckerConfig()
	if checkCfg.Timeout != 5*time.Second || checkCfg.Limits.Processes != 32 {
		t.Fatalf("unexpected checker config: %+v", checkCfg)
	}
	if checkCfg.Compilers[checker.KindC] != "clang" {
		t.Fatalf("expected compiler override, got %v", checkCfg.Compilers)
	}
	if checkCfg.MaxLogBytes == 0 || checkCfg.Limits.MaxOpenFiles == 0 {
		t.Fatalf("expected checker defaults to be applied")
	}
}
