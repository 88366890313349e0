package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func resetFlags(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet("cmd", flag.ExitOnError)
	os.Args = append([]string{"cmd"}, args...)
}

func TestParseCommaSeparated(t *testing.T) {
	res := parseCommaSeparated("a,b , c")
	if len(res) != 3 || res[1] != "b" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseCommaSeparated(""); len(res) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestParseHeaders(t *testing.T) {
	res := parseHeaders("a=1, b = 2,bad,=x")
	if len(res) != 2 || res["a"] != "1" || res["b"] != "2" {
		t.Fatalf("unexpected headers: %v", res)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"input_paths":["/tmp/a.dd"],"max_samples":3,"concurrency_level":2}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := &Config{}
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InputPaths[0] != "/tmp/a.dd" || cfg.MaxSamples != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.ConcurrencySet || cfg.ConcurrencyLevel != 2 {
		t.Fatalf("expected concurrency to be marked as set: %+v", cfg)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "input_paths:\n  - disk.img\nhash_algorithms: [md5, blake3]\nopen_retry_backoff: 50ms\nscore_whole_image: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := Default()
	if err := cfg.loadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.InputPaths) != 1 || cfg.InputPaths[0] != "disk.img" {
		t.Fatalf("unexpected inputs: %v", cfg.InputPaths)
	}
	if cfg.OpenRetryBackoff != 50*time.Millisecond {
		t.Fatalf("unexpected backoff: %v", cfg.OpenRetryBackoff)
	}
	if !cfg.ScoreWholeImage {
		t.Fatal("expected whole-image scoring enabled")
	}
	if cfg.ConcurrencySet {
		t.Fatal("concurrency should not be marked as set")
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := &Config{}
	if err := cfg.loadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if err := cfg.loadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.InputPaths = []string{"a.dd"}
		cfg.normalize()
		return cfg
	}
	if err := valid().validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"no inputs":        func(c *Config) { c.InputPaths = nil },
		"format":           func(c *Config) { c.OutputFormat = "xml" },
		"concurrency":      func(c *Config) { c.ConcurrencyLevel = 0 },
		"max input":        func(c *Config) { c.MaxInputSize = 0 },
		"hash":             func(c *Config) { c.HashAlgorithms = []string{"sha256", "crc7"} },
		"head":             func(c *Config) { c.HeadSampleSize = 0 },
		"fallback":         func(c *Config) { c.FallbackScanBytes = 0 },
		"samples":          func(c *Config) { c.MaxSamples = -1 },
		"depth":            func(c *Config) { c.MaxTraversalDepth = 0 },
		"retries":          func(c *Config) { c.OpenRetries = 0 },
		"backoff":          func(c *Config) { c.OpenRetryBackoff = -time.Second },
		"cache":            func(c *Config) { c.CacheSize = -1 },
		"io":               func(c *Config) { c.MaxIOPerSecond = -1 },
		"otel scheme":      func(c *Config) { c.OtelEndpoint = "collector:4318" },
		"log level":        func(c *Config) { c.LogLevel = "loud" },
		"trace flight age": func(c *Config) { c.TraceFlightMinAge = -time.Second },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNormalizeAddsPrimaryHashAndCapsRetries(t *testing.T) {
	cfg := &Config{HashAlgorithms: []string{" MD5 ", ""}, OpenRetries: 9, MaxSamples: 20, HeadSampleSize: 100, SampleHeadSize: 200}
	cfg.normalize()
	if len(cfg.HashAlgorithms) != 2 || cfg.HashAlgorithms[0] != "sha256" || cfg.HashAlgorithms[1] != "md5" {
		t.Fatalf("unexpected algorithms: %v", cfg.HashAlgorithms)
	}
	if cfg.OpenRetries != 5 {
		t.Fatalf("expected retries capped at 5, got %d", cfg.OpenRetries)
	}
	if cfg.MaxSamples != 8 {
		t.Fatalf("expected samples capped at 8, got %d", cfg.MaxSamples)
	}
	if cfg.SampleHeadSize != 100 {
		t.Fatalf("expected sample head capped by head size, got %d", cfg.SampleHeadSize)
	}
	if cfg.ReadChunkSize <= 0 {
		t.Fatal("expected default chunk size")
	}
}

func TestLoadConfigPositionalInputs(t *testing.T) {
	resetFlags(t, "--max-samples", "4", "--hashes", "md5,xxhash64", "one.dd", "two.img")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.InputPaths) != 2 || cfg.InputPaths[1] != "two.img" {
		t.Fatalf("unexpected inputs: %v", cfg.InputPaths)
	}
	if cfg.MaxSamples != 4 {
		t.Fatalf("unexpected max samples: %d", cfg.MaxSamples)
	}
	if cfg.HashAlgorithms[0] != "sha256" || len(cfg.HashAlgorithms) != 3 {
		t.Fatalf("unexpected algorithms: %v", cfg.HashAlgorithms)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("input_paths: [file.dd]\ntop_files: 3\nmax_traversal_depth: 8\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	resetFlags(t, "--config", path, "--top-files", "5")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TopFiles != 5 {
		t.Fatalf("flag should override file, got %d", cfg.TopFiles)
	}
	if cfg.MaxTraversalDepth != 8 {
		t.Fatalf("file value should survive, got %d", cfg.MaxTraversalDepth)
	}
	if cfg.InputPaths[0] != "file.dd" {
		t.Fatalf("unexpected inputs: %v", cfg.InputPaths)
	}
}

func TestOtelAndTraceFlags(t *testing.T) {
	resetFlags(t,
		"--otel-endpoint", "http://localhost:4318/v1/logs",
		"--otel-headers", "authorization=Bearer x",
		"--otel-timeout", "2s",
		"--trace-flight",
		"--trace-flight-file", "",
		"a.raw",
	)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OtelHeaders["authorization"] != "Bearer x" || cfg.OtelTimeout != 2*time.Second {
		t.Fatalf("unexpected otel config: %+v", cfg)
	}
	if !cfg.TraceFlight || cfg.TraceFlightFile != "trace-flight.out" {
		t.Fatalf("unexpected trace flight config: %v %q", cfg.TraceFlight, cfg.TraceFlightFile)
	}
}

func TestLoadConfigRequiresInput(t *testing.T) {
	resetFlags(t)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without inputs")
	}
}
