package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"imgtriage/hasher"
	"imgtriage/version"

	"gopkg.in/yaml.v3"
)

type Config struct {
	InputPaths          []string          `json:"input_paths" yaml:"input_paths"`
	DeclareImage        bool              `json:"declare_image" yaml:"declare_image"`
	OutputFormat        string            `json:"output_format" yaml:"output_format"`
	OutputFileName      string            `json:"output_file_name" yaml:"output_file_name"`
	ConcurrencyLevel    int               `json:"concurrency_level" yaml:"concurrency_level"`
	LogLevel            string            `json:"log_level" yaml:"log_level"`
	MaxInputSize        int64             `json:"max_input_size" yaml:"max_input_size"`
	HashAlgorithms      []string          `json:"hash_algorithms" yaml:"hash_algorithms"`
	ReadChunkSize       int               `json:"read_chunk_size" yaml:"read_chunk_size"`
	HeadSampleSize      int               `json:"head_sample_size" yaml:"head_sample_size"`
	SampleHeadSize      int               `json:"sample_head_size" yaml:"sample_head_size"`
	FallbackScanBytes   int               `json:"fallback_scan_bytes" yaml:"fallback_scan_bytes"`
	MaxSamples          int               `json:"max_samples" yaml:"max_samples"`
	TopFiles            int               `json:"top_files" yaml:"top_files"`
	MaxTraversalDepth   int               `json:"max_traversal_depth" yaml:"max_traversal_depth"`
	OpenRetries         int               `json:"open_retries" yaml:"open_retries"`
	OpenRetryBackoff    time.Duration     `json:"open_retry_backoff" yaml:"open_retry_backoff"`
	IncludePatterns     []string          `json:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns     []string          `json:"exclude_patterns" yaml:"exclude_patterns"`
	TempDir             string            `json:"temp_dir" yaml:"temp_dir"`
	ModelPath           string            `json:"model_path" yaml:"model_path"`
	ScoreWholeImage     bool              `json:"score_whole_image" yaml:"score_whole_image"`
	FuzzyHash           bool              `json:"fuzzy_hash" yaml:"fuzzy_hash"`
	FuzzyMinSize        int64             `json:"fuzzy_min_size" yaml:"fuzzy_min_size"`
	MetadataMaxBytes    int64             `json:"metadata_max_bytes" yaml:"metadata_max_bytes"`
	IOCHashFile         string            `json:"ioc_hash_file" yaml:"ioc_hash_file"`
	CacheSize           int               `json:"cache_size" yaml:"cache_size"`
	MetricsTextfile     string            `json:"metrics_textfile" yaml:"metrics_textfile"`
	MaxIOPerSecond      int               `json:"max_io_per_second" yaml:"max_io_per_second"`
	ConfigFile          string            `json:"config_file" yaml:"config_file"`
	OtelEndpoint        string            `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv         bool              `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders         map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName     string            `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout         time.Duration     `json:"otel_timeout" yaml:"otel_timeout"`
	OtelExportPaths     bool              `json:"otel_export_paths" yaml:"otel_export_paths"`
	TraceFlight         bool              `json:"trace_flight" yaml:"trace_flight"`
	TraceFlightFile     string            `json:"trace_flight_file" yaml:"trace_flight_file"`
	TraceFlightMaxBytes uint64            `json:"trace_flight_max_bytes" yaml:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration     `json:"trace_flight_min_age" yaml:"trace_flight_min_age"`
	ConcurrencySet      bool              `json:"-" yaml:"-"`
}

// Default returns the built-in configuration without consulting flags or files.
func Default() *Config {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	return &Config{
		InputPaths:          []string{},
		OutputFormat:        "json",
		OutputFileName:      fmt.Sprintf("imgtriage-%s-%d.json", timestamp, now.Unix()),
		ConcurrencyLevel:    runtime.NumCPU(),
		LogLevel:            "info",
		MaxInputSize:        50 * 1024 * 1024,
		HashAlgorithms:      []string{"sha256"},
		ReadChunkSize:       1024 * 1024,
		HeadSampleSize:      1024 * 1024,
		SampleHeadSize:      256 * 1024,
		FallbackScanBytes:   5 * 1024 * 1024,
		MaxSamples:          8,
		TopFiles:            10,
		MaxTraversalDepth:   64,
		OpenRetries:         5,
		OpenRetryBackoff:    200 * time.Millisecond,
		IncludePatterns:     []string{},
		ExcludePatterns:     []string{},
		ScoreWholeImage:     false,
		FuzzyHash:           true,
		FuzzyMinSize:        256,
		MetadataMaxBytes:    1024 * 1024,
		CacheSize:           64,
		MaxIOPerSecond:      0,
		OtelHeaders:         map[string]string{},
		OtelServiceName:     "imgtriage",
		OtelTimeout:         5 * time.Second,
		TraceFlightFile:     "trace-flight.out",
		TraceFlightMaxBytes: 0,
		TraceFlightMinAge:   0,
	}
}

func LoadConfig() (*Config, error) {
	cfg := Default()

	inputs := flag.String("input", "", "Comma-separated list of disk images or files to analyze (positional arguments are appended).")
	declareImage := flag.Bool("declare-image", cfg.DeclareImage, fmt.Sprintf("Treat every input as a declared disk image regardless of extension (default: %t).", cfg.DeclareImage))
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Output format: json or ndjson (default: %s).", cfg.OutputFormat))
	output := flag.String("output", cfg.OutputFileName, "Output file name (default: imgtriage-<timestamp>-<unix>.json).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, fmt.Sprintf("Number of inputs analyzed in parallel (default: %d).", cfg.ConcurrencyLevel))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	maxInputSize := flag.Int64("max-input-size", cfg.MaxInputSize, fmt.Sprintf("Maximum artifact size in bytes (default: %d).", cfg.MaxInputSize))
	hashes := flag.String("hashes", strings.Join(cfg.HashAlgorithms, ","), fmt.Sprintf("Comma-separated list of per-file hash algorithms; sha256 is always computed (default: %s).", strings.Join(cfg.HashAlgorithms, ",")))
	chunkSize := flag.Int("read-chunk-size", cfg.ReadChunkSize, fmt.Sprintf("Bytes per random-offset read while hashing (default: %d).", cfg.ReadChunkSize))
	headSize := flag.Int("head-sample-size", cfg.HeadSampleSize, fmt.Sprintf("Bytes of each file head scanned for signals (default: %d).", cfg.HeadSampleSize))
	sampleHeadSize := flag.Int("sample-head-size", cfg.SampleHeadSize, fmt.Sprintf("Bytes of each sampled head kept for scoring (default: %d).", cfg.SampleHeadSize))
	fallbackBytes := flag.Int("fallback-scan-bytes", cfg.FallbackScanBytes, fmt.Sprintf("Bytes of the raw artifact scanned when no files are found (default: %d).", cfg.FallbackScanBytes))
	maxSamples := flag.Int("max-samples", cfg.MaxSamples, fmt.Sprintf("Maximum sampled files per analysis, at most 8 (default: %d).", cfg.MaxSamples))
	topFiles := flag.Int("top-files", cfg.TopFiles, fmt.Sprintf("Number of largest files listed in the summary (default: %d).", cfg.TopFiles))
	maxDepth := flag.Int("max-depth", cfg.MaxTraversalDepth, fmt.Sprintf("Maximum directory depth traversed inside a volume (default: %d).", cfg.MaxTraversalDepth))
	openRetries := flag.Int("open-retries", cfg.OpenRetries, fmt.Sprintf("Attempts to open an image before giving up, at most 5 (default: %d).", cfg.OpenRetries))
	openBackoff := flag.Duration("open-retry-backoff", cfg.OpenRetryBackoff, "Linear backoff step between image open attempts (default: 200ms).")
	includes := flag.String("include", "", "Comma-separated list of include patterns for files inside images (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns for files inside images (default: none).")
	tempDir := flag.String("temp-dir", cfg.TempDir, "Directory for temporary backing files (default: system temp).")
	modelPath := flag.String("model", cfg.ModelPath, "Path to a YAML or JSON content-scorer model (default: none).")
	scoreWhole := flag.Bool("score-whole-image", cfg.ScoreWholeImage, fmt.Sprintf("Score the raw artifact head with the content scorer (default: %t).", cfg.ScoreWholeImage))
	fuzzyHash := flag.Bool("fuzzy-hash", cfg.FuzzyHash, fmt.Sprintf("Compute TLSH digests for sampled files (default: %t).", cfg.FuzzyHash))
	fuzzyMinSize := flag.Int64("fuzzy-min-size", cfg.FuzzyMinSize, fmt.Sprintf("Minimum sample size in bytes for fuzzy hashing (default: %d).", cfg.FuzzyMinSize))
	metadataMaxBytes := flag.Int64("metadata-max-bytes", cfg.MetadataMaxBytes, fmt.Sprintf("Maximum bytes metadata parsers may decode per sample (default: %d, 0 means unlimited).", cfg.MetadataMaxBytes))
	iocFile := flag.String("ioc-hashes", cfg.IOCHashFile, "File of known-bad SHA-256 digests, one per line (default: none).")
	cacheSize := flag.Int("cache-size", cfg.CacheSize, fmt.Sprintf("Number of analysis summaries cached by content digest, 0 disables (default: %d).", cfg.CacheSize))
	metricsFile := flag.String("metrics-textfile", cfg.MetricsTextfile, "Write Prometheus metrics to this file on exit (default: none).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, fmt.Sprintf("Maximum file reads per second inside images, 0 means unlimited (default: %d).", cfg.MaxIOPerSecond))
	configFile := flag.String("config", "", "Path to JSON or YAML configuration file (default: none).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: imgtriage).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include in-image file paths in OTEL payloads (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for flight recorder buffer (default: 0 for runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain (default: 0).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("imgtriage version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.InputPaths = parseCommaSeparated(*inputs)
		case "declare-image":
			cfg.DeclareImage = *declareImage
		case "format":
			cfg.OutputFormat = strings.ToLower(*format)
		case "output":
			cfg.OutputFileName = *output
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "log-level":
			cfg.LogLevel = *logLevel
		case "max-input-size":
			cfg.MaxInputSize = *maxInputSize
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "read-chunk-size":
			cfg.ReadChunkSize = *chunkSize
		case "head-sample-size":
			cfg.HeadSampleSize = *headSize
		case "sample-head-size":
			cfg.SampleHeadSize = *sampleHeadSize
		case "fallback-scan-bytes":
			cfg.FallbackScanBytes = *fallbackBytes
		case "max-samples":
			cfg.MaxSamples = *maxSamples
		case "top-files":
			cfg.TopFiles = *topFiles
		case "max-depth":
			cfg.MaxTraversalDepth = *maxDepth
		case "open-retries":
			cfg.OpenRetries = *openRetries
		case "open-retry-backoff":
			cfg.OpenRetryBackoff = *openBackoff
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "temp-dir":
			cfg.TempDir = strings.TrimSpace(*tempDir)
		case "model":
			cfg.ModelPath = strings.TrimSpace(*modelPath)
		case "score-whole-image":
			cfg.ScoreWholeImage = *scoreWhole
		case "fuzzy-hash":
			cfg.FuzzyHash = *fuzzyHash
		case "fuzzy-min-size":
			cfg.FuzzyMinSize = *fuzzyMinSize
		case "metadata-max-bytes":
			cfg.MetadataMaxBytes = *metadataMaxBytes
		case "ioc-hashes":
			cfg.IOCHashFile = strings.TrimSpace(*iocFile)
		case "cache-size":
			cfg.CacheSize = *cacheSize
		case "metrics-textfile":
			cfg.MetricsTextfile = strings.TrimSpace(*metricsFile)
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		}
	})
	cfg.InputPaths = append(cfg.InputPaths, flag.Args()...)

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	if !containsString(cfg.HashAlgorithms, hasher.Primary) {
		cfg.HashAlgorithms = append([]string{hasher.Primary}, cfg.HashAlgorithms...)
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = hasher.DefaultChunkSize
	}
	if cfg.SampleHeadSize > cfg.HeadSampleSize && cfg.HeadSampleSize > 0 {
		cfg.SampleHeadSize = cfg.HeadSampleSize
	}
	if cfg.OpenRetries > 5 {
		cfg.OpenRetries = 5
	}
	if cfg.MaxSamples > 8 {
		cfg.MaxSamples = 8
	}
	if cfg.OtelHeaders == nil {
		cfg.OtelHeaders = map[string]string{}
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
	inputs := make([]string, 0, len(cfg.InputPaths))
	for _, p := range cfg.InputPaths {
		if p = strings.TrimSpace(p); p != "" {
			inputs = append(inputs, p)
		}
	}
	cfg.InputPaths = inputs
}

func displayHelp() {
	fmt.Println("imgtriage - disk image triage")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  imgtriage [options] <artifact> [artifact...]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  imgtriage evidence.dd")
	fmt.Println("  imgtriage --hashes md5,sha256,blake3 --model model.yaml disk1.img disk2.raw")
	fmt.Println("  imgtriage --declare-image --ioc-hashes known_bad.txt upload.bin")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if _, ok := raw["concurrency_level"]; ok {
			cfg.ConcurrencySet = true
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if _, ok := raw["concurrency_level"]; ok {
			cfg.ConcurrencySet = true
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	}
	return nil
}

func (cfg *Config) validate() error {
	if len(cfg.InputPaths) == 0 {
		return fmt.Errorf("at least one input artifact must be specified")
	}
	if cfg.OutputFormat != "json" && cfg.OutputFormat != "ndjson" {
		return fmt.Errorf("invalid output format: %s (json or ndjson)", cfg.OutputFormat)
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.MaxInputSize <= 0 {
		return fmt.Errorf("max-input-size must be positive")
	}
	for _, algo := range cfg.HashAlgorithms {
		if !hasher.Supported(algo) {
			return fmt.Errorf("unsupported hash algorithm: %s", algo)
		}
	}
	if cfg.HeadSampleSize <= 0 || cfg.SampleHeadSize <= 0 {
		return fmt.Errorf("head sample sizes must be positive")
	}
	if cfg.FallbackScanBytes <= 0 {
		return fmt.Errorf("fallback-scan-bytes must be positive")
	}
	if cfg.MaxSamples < 0 {
		return fmt.Errorf("max-samples must be zero or positive")
	}
	if cfg.TopFiles < 0 {
		return fmt.Errorf("top-files must be zero or positive")
	}
	if cfg.MaxTraversalDepth <= 0 {
		return fmt.Errorf("max-depth must be positive")
	}
	if cfg.OpenRetries <= 0 {
		return fmt.Errorf("open-retries must be between 1 and 5")
	}
	if cfg.OpenRetryBackoff < 0 {
		return fmt.Errorf("open-retry-backoff must be zero or positive")
	}
	if cfg.FuzzyMinSize < 0 {
		return fmt.Errorf("fuzzy-min-size must be zero or positive")
	}
	if cfg.MetadataMaxBytes < 0 {
		return fmt.Errorf("metadata-max-bytes must be zero or positive")
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("cache-size must be zero or positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	items := strings.Split(input, ",")
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
