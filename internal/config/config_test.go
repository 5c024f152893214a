package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:50051",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:50051,n2=127.0.0.1:50052,n3=127.0.0.1:50053",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
				{ID: "n3", Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:50051 , n2 = 127.0.0.1:50052",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	body := `service_name: notes
sync_port: 7100
discovery_timeout: 1500ms
failover_retries: 3
seeds:
  - id: c1
    addr: 10.0.0.1:7100
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServiceName != "notes" || cfg.SyncPort != 7100 {
		t.Errorf("Expected file values, got %+v", cfg)
	}
	if cfg.DiscoveryTimeout != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s discovery timeout, got %v", cfg.DiscoveryTimeout)
	}
	if cfg.FailoverRetries != 3 {
		t.Errorf("Expected 3 failover retries, got %d", cfg.FailoverRetries)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("Expected default poll interval kept, got %v", cfg.PollInterval)
	}
	if len(cfg.Seeds) != 1 || cfg.Seeds[0].Addr != "10.0.0.1:7100" {
		t.Errorf("Expected one seed, got %v", cfg.Seeds)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestApplyLookup(t *testing.T) {
	env := map[string]string{
		"COORDSYNC_SERVICE_NAME":  "chat",
		"COORDSYNC_SYNC_PORT":     "7200",
		"COORDSYNC_LOG_ENABLED":   "false",
		"COORDSYNC_POLL_INTERVAL": "50ms",
		"COORDSYNC_SEEDS":         "c1=10.0.0.1:7200,c2=10.0.0.2:7200",
	}
	cfg := Default()
	err := cfg.applyLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyLookup failed: %v", err)
	}
	if cfg.ServiceName != "chat" || cfg.SyncPort != 7200 || cfg.LogEnabled {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("Expected 50ms poll interval, got %v", cfg.PollInterval)
	}
	if len(cfg.Seeds) != 2 {
		t.Errorf("Expected 2 seeds, got %v", cfg.Seeds)
	}
}

func TestApplyLookup_Invalid(t *testing.T) {
	env := map[string]string{
		"COORDSYNC_SYNC_PORT":     "seventy",
		"COORDSYNC_SYNC_INTERVAL": "soon",
	}
	cfg := Default()
	err := cfg.applyLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	for _, key := range []string{"COORDSYNC_SYNC_PORT", "COORDSYNC_SYNC_INTERVAL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Expected %s in error, got %v", key, err)
		}
	}
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("COORDSYNC_HOST=192.168.7.7\nCOORDSYNC_FAILOVER_DELAY=250ms\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("COORDSYNC_FAILOVER_DELAY", "1s")

	cfg := Default()
	if err := cfg.ApplyEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Host != "192.168.7.7" {
		t.Errorf("Expected host from .env, got %s", cfg.Host)
	}
	if cfg.FailoverDelay != time.Second {
		t.Errorf("Expected process env to win, got %v", cfg.FailoverDelay)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty service", func(c *Config) { c.ServiceName = " " }, "service_name"},
		{"bad port", func(c *Config) { c.SyncPort = 70000 }, "sync_port"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"bad driver", func(c *Config) { c.ChangeLogDriver = "mongo" }, "changelog_driver"},
		{"seeds skip announce port", func(c *Config) {
			c.AnnouncePort = 0
			c.Seeds = []Peer{{ID: "c", Addr: "h:1"}}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
