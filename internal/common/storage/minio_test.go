package storage

import "testing"

func TestNewMinIOStorageValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MinIOConfig
		ok   bool
	}{
		{name: "missing endpoint", cfg: MinIOConfig{AccessKey: "a", SecretKey: "s"}},
		{name: "missing access key", cfg: MinIOConfig{Endpoint: "127.0.0.1:9000", SecretKey: "s"}},
		{name: "missing secret key", cfg: MinIOConfig{Endpoint: "127.0.0.1:9000", AccessKey: "a"}},
		{name: "valid", cfg: MinIOConfig{Endpoint: "127.0.0.1:9000", AccessKey: "a", SecretKey: "s"}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewMinIOStorage(tt.cfg)
			if tt.ok && (err != nil || s == nil) {
				t.Fatalf("expected storage, got err=%v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
