package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/uirefine/analysis"
	"github.com/hazyhaar/uirefine/refine"
)

func TestDefault_MatchesLoopDefaults(t *testing.T) {
	got := Default().LoopConfig()
	want := refine.DefaultConfig()
	if got != want {
		t.Fatalf("LoopConfig() = %+v, want %+v", got, want)
	}
	if Default().Server.Addr != ":8090" {
		t.Errorf("server addr = %q", Default().Server.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uirefine.yaml")
	data := `
loop:
  max_iterations: 3
  quality_threshold: 0.9
  layout: false
  mode: lightweight
  screenshot_dir: /tmp/shots
browser:
  headful: true
  resource_blocking: [fonts, media]
  load_timeout: 10s
  recycle_after: 50
refiner:
  provider: ollama
archive:
  path: /var/lib/uirefine/runs.db
shots:
  endpoint: localhost:9000
  bucket: ui
sinks:
  - type: stdout
  - type: webhook
    url: http://hooks.local/ui
server:
  addr: ":9999"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	lc := cfg.LoopConfig()
	if lc.MaxIterations != 3 || lc.QualityThreshold != 0.9 {
		t.Errorf("loop = %+v", lc)
	}
	if lc.EnableLayoutAnalysis {
		t.Error("layout should be disabled")
	}
	if !lc.EnableAccessibilityCheck {
		t.Error("accessibility should default to enabled")
	}
	if lc.Mode != analysis.Lightweight {
		t.Errorf("mode = %v", lc.Mode)
	}
	if lc.MinImprovement != 0.05 {
		t.Errorf("min_improvement default = %v", lc.MinImprovement)
	}
	if !cfg.Browser.Headful || len(cfg.Browser.ResourceBlocking) != 2 || cfg.Browser.LoadTimeout != 10*time.Second || cfg.Browser.RecycleAfter != 50 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Refiner.Model == "" || cfg.Refiner.URL != "http://localhost:11434" {
		t.Errorf("ollama defaults not applied: %+v", cfg.Refiner)
	}
	if !*cfg.Refiner.Sanitize {
		t.Error("sanitize should default to true")
	}
	if cfg.Sinks[1].Retries != 3 || cfg.Sinks[1].Backoff != time.Second {
		t.Errorf("webhook defaults = %+v", cfg.Sinks[1])
	}
	if !cfg.ShotsEnabled() || cfg.ShotsConfig().Region != "us-east-1" {
		t.Errorf("shots = %+v", cfg.Shots)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", "loop: {mode: turbo}", "loop.mode"},
		{"threshold out of range", "loop: {quality_threshold: 1.5}", "quality_threshold"},
		{"unknown provider", "refiner: {provider: gpt}", "refiner.provider"},
		{"webhook without url", "sinks: [{type: webhook}]", "url is required"},
		{"unknown sink", "sinks: [{type: nats}]", "unknown type"},
		{"webhook bad scheme", "sinks: [{type: webhook, url: ftp://hooks.local}]", "sinks[0]"},
		{"webhook private", "sinks: [{type: webhook, url: http://127.0.0.1/ui, public_only: true}]", "private"},
		{"ollama bad url", "refiner: {provider: ollama, url: localhost}", "refiner.url"},
		{"negative recycle", "browser: {recycle_after: -1}", "recycle_after"},
		{"bucket without endpoint", "shots: {bucket: ui}", "shots.endpoint"},
		{"not yaml", "loop: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("S3_ACCESS_KEY", "")
	t.Setenv("MINIO_ROOT_USER", "minio")
	t.Setenv("S3_SECRET_KEY", " secret ")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Refiner.APIKey != "g-key" {
		t.Errorf("api key = %q", cfg.Refiner.APIKey)
	}
	if cfg.Shots.AccessKey != "minio" {
		t.Errorf("access key = %q", cfg.Shots.AccessKey)
	}
	if cfg.Shots.SecretKey != "secret" {
		t.Errorf("secret key = %q", cfg.Shots.SecretKey)
	}
}
