package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/striderlabs/strider/pkg/agent"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Mode != agent.ModeAuto {
		t.Errorf("default mode should be AUTO, got %s", cfg.Engine.Mode)
	}
	if cfg.LLM.Model == "" || cfg.LLM.Host == "" {
		t.Error("llm defaults missing")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port expected, got %d", cfg.Server.Port)
	}
}

func TestLoadFileAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	path := writeConfig(t, `
llm:
  api_key: ${TEST_API_KEY}
  model: gpt-4o-mini
engine:
  mode: PLANNING
  max_iterations: 20
  enable_3_strike: false
  skill_confidence_threshold: 0.9
  available_time_seconds: 120
server:
  port: 9999
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("env expansion failed, got %q", cfg.LLM.APIKey)
	}
	if cfg.Engine.Mode != agent.ModePlanning || cfg.Server.Port != 9999 {
		t.Error("file values not applied")
	}
	if cfg.Engine.EnableThreeStrike == nil || *cfg.Engine.EnableThreeStrike {
		t.Error("explicit false must survive loading")
	}

	ec := cfg.ToEngineConfig("sess_x")
	if ec.AvailableTime != 2*time.Minute {
		t.Errorf("seconds should convert to duration, got %s", ec.AvailableTime)
	}
	if ec.Router.SkillThreshold != 0.9 {
		t.Errorf("router threshold lost: %f", ec.Router.SkillThreshold)
	}
	if ec.Model != "gpt-4o-mini" {
		t.Error("engine inherits the llm model")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"engine:\n  mode: SIDEWAYS\n",
		"engine:\n  skill_confidence_threshold: 1.5\n",
		"server:\n  port: 70000\n",
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("config should be rejected:\n%s", content)
		}
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing path must error")
	}
}
