package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Follow.TranscriptWindowWords != 80 {
		t.Fatalf("expected default window words, got %d", cfg.Follow.TranscriptWindowWords)
	}
	if cfg.Recognition.Reconnect.Enabled {
		t.Fatal("expected recognition reconnect disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOLLOWSPOT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FOLLOWSPOT_SYNC_ROLE", "both")
	t.Setenv("FOLLOWSPOT_FOLLOW_MATCH_THRESHOLD", "0.5")
	t.Setenv("FOLLOWSPOT_FOLLOW_COOLDOWN_MS", "1000")
	t.Setenv("FOLLOWSPOT_RECOGNITION_ENABLED", "true")
	t.Setenv("FOLLOWSPOT_RECOGNITION_API_KEY", "test-key")
	t.Setenv("FOLLOWSPOT_RECOGNITION_SAMPLE_RATE", "8000")
	t.Setenv("FOLLOWSPOT_SLIDE_STORE_PATH", "./tmp.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Sync.Role != "both" {
		t.Fatalf("expected sync role override, got %q", cfg.Sync.Role)
	}
	if cfg.Follow.MatchThreshold != 0.5 {
		t.Fatalf("expected threshold override, got %v", cfg.Follow.MatchThreshold)
	}
	if cfg.Follow.CooldownMS != 1000 {
		t.Fatalf("expected cooldown override, got %d", cfg.Follow.CooldownMS)
	}
	if !cfg.Recognition.Enabled || cfg.Recognition.APIKey != "test-key" {
		t.Fatal("expected recognition overrides")
	}
	if cfg.Recognition.SampleRate != 8000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Recognition.SampleRate)
	}
	if cfg.SlideStore.Path != "./tmp.db" {
		t.Fatalf("expected slide store path override, got %q", cfg.SlideStore.Path)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	t.Setenv("FOLLOWSPOT_FOLLOW_MATCH_THRESHOLD", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected threshold outside [0,1] to be rejected")
	}
}

func TestValidateRejectsBadRole(t *testing.T) {
	t.Setenv("FOLLOWSPOT_SYNC_ROLE", "observer")
	if _, err := Load(""); err == nil {
		t.Fatal("expected unknown sync role to be rejected")
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	t.Setenv("FOLLOWSPOT_RECOGNITION_ENABLED", "true")
	if _, err := Load(""); err == nil {
		t.Fatal("expected enabled recognition without api key to be rejected")
	}
}
