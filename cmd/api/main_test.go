package main

import (
	"testing"

	"github.com/zhouzirui/pipbot/internal/config"
	"github.com/zhouzirui/pipbot/internal/model/persona"
)

func TestApplyOverrides(t *testing.T) {
	p := persona.Seed()[0]
	got := applyOverrides(p, config.RelayConfig{})
	if got.ToneStrategy != p.ToneStrategy || got.ContextWindow != p.ContextWindow {
		t.Fatalf("zero overrides must keep persona values, got %+v", got)
	}

	got = applyOverrides(p, config.RelayConfig{ToneStrategy: "score", ContextWindow: 8, CapChars: 500, RetainTurns: 16})
	if got.ToneStrategy != "score" || got.ContextWindow != 8 || got.CapChars != 500 || got.RetainTurns != 16 {
		t.Fatalf("overrides not applied: %+v", got)
	}
}

func TestLoadPersonasDefaultsToSeed(t *testing.T) {
	personas, err := loadPersonas(config.RelayConfig{})
	if err != nil {
		t.Fatalf("loadPersonas: %v", err)
	}
	if len(personas) != len(persona.Seed()) {
		t.Fatalf("expected seed personas, got %d", len(personas))
	}
}
