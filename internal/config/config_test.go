package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("HISTORY_DRIVER", "")
	t.Setenv("COMPLETION_TIMEOUT", "")
	t.Setenv("MODEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderArk {
		t.Fatalf("unexpected provider %s", cfg.AI.Provider)
	}
	if cfg.AI.Timeout != 60*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.AI.Timeout)
	}
	if cfg.History.Driver != "sqlite" {
		t.Fatalf("unexpected driver %s", cfg.History.Driver)
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI should be disabled without credentials")
	}
}

func TestLoadOpenAICompatible(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "gsk_test")
	t.Setenv("MODEL", "llama3-70b-8192")
	t.Setenv("COMPLETION_TIMEOUT", "15")
	t.Setenv("CONTEXT_WINDOW", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("expected openai provider to be enabled")
	}
	if cfg.AI.Timeout != 15*time.Second {
		t.Fatalf("expected numeric timeout in seconds, got %s", cfg.AI.Timeout)
	}
	if cfg.AI.ClassifierModel != "llama3-70b-8192" {
		t.Fatalf("classifier model should default to MODEL, got %q", cfg.AI.ClassifierModel)
	}
	if cfg.Relay.ContextWindow != 12 {
		t.Fatalf("unexpected context window %d", cfg.Relay.ContextWindow)
	}
	if cfg.Relay.MaxQueued != 256 {
		t.Fatalf("expected default queue bound 256, got %d", cfg.Relay.MaxQueued)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LLM_PROVIDER":       "carrier-pigeon",
		"HISTORY_DRIVER":     "floppy",
		"COMPLETION_TIMEOUT": "soon",
		"CONTEXT_WINDOW":     "-3",
		"PORT":               "80 80",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
