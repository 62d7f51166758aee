package config

import (
	"testing"
	"time"
)

func TestWithRollupDefaults(t *testing.T) {
	cfg := withRollupDefaults(RollupConfig{})
	if cfg.Timezone != "UTC" {
		t.Fatalf("expected UTC default, got %q", cfg.Timezone)
	}
	if cfg.RunInterval != 24*time.Hour {
		t.Fatalf("expected 24h interval, got %v", cfg.RunInterval)
	}
	if cfg.RunTimeout != 10*time.Minute {
		t.Fatalf("expected 10m timeout, got %v", cfg.RunTimeout)
	}

	cfg = withRollupDefaults(RollupConfig{Timezone: "Asia/Jakarta", RunInterval: time.Hour})
	if cfg.Timezone != "Asia/Jakarta" || cfg.RunInterval != time.Hour {
		t.Fatalf("expected explicit values kept, got %+v", cfg)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	loc := RollupConfig{Timezone: "Not/AZone"}.Location()
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", loc)
	}

	loc = RollupConfig{Timezone: "Asia/Jakarta"}.Location()
	if loc.String() != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta, got %v", loc)
	}
}

func TestValidateRollupConfig(t *testing.T) {
	if err := validateRollupConfig(RollupConfig{Timezone: "UTC"}); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if err := validateRollupConfig(RollupConfig{Timezone: "Mars/OlympusMons"}); err == nil {
		t.Fatal("expected invalid timezone rejected")
	}
}

func TestStaticHolderAppliesDefaults(t *testing.T) {
	holder := NewStaticRollupConfigHolder(RollupConfig{})
	got := holder.Get()
	if got.Timezone != "UTC" || got.RunTimeout != 10*time.Minute {
		t.Fatalf("expected defaults applied, got %+v", got)
	}
}
