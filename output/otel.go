package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"imgtriage/config"
	"imgtriage/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("imgtriage"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType string, payload interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	safePayload := sanitizePayload(recordType, payload, o.policy)

	var record otelLog.Record
	record.SetTimestamp(time.Now())
	record.SetObservedTimestamp(time.Now())
	record.SetEventName("imgtriage.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
	)
	if attrs := semanticAttributes(recordType, safePayload, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	if value := toLogValue(safePayload); value.Kind() != otelLog.KindEmpty {
		record.SetBody(value)
	} else if data, err := json.Marshal(safePayload); err == nil {
		record.SetBody(otelLog.StringValue(string(data)))
	}

	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// pathLists are summary fields that consist of in-image paths.
var pathLists = []string{"top_files", "hashes", "timeline", "parse_warnings"}

// sanitizePayload strips in-image and on-disk paths from analysis records
// unless path export is enabled. Counts replace the dropped lists.
func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if len(data) == 0 || recordType != "analysis" || policy.includePaths {
		if data == nil {
			return payload
		}
		return data
	}

	sanitized := cloneMap(data)
	if source, ok := sanitized["source"].(map[string]interface{}); ok {
		source = cloneMap(source)
		delete(source, "path")
		sanitized["source"] = source
	}
	summary, ok := sanitized["summary"].(map[string]interface{})
	if !ok {
		return sanitized
	}
	summary = cloneMap(summary)
	for _, key := range pathLists {
		if count, ok := valueCount(summary[key]); ok {
			summary[key+"_count"] = count
		}
		delete(summary, key)
	}
	if count, ok := valueCount(summary["known_bad"]); ok {
		summary["known_bad_count"] = count
	}
	delete(summary, "known_bad")
	summary["suspicious"] = stripPaths(summary["suspicious"])
	summary["samples"] = stripPaths(summary["samples"])
	sanitized["summary"] = summary
	return sanitized
}

func stripPaths(value interface{}) interface{} {
	items, ok := value.([]interface{})
	if !ok {
		return value
	}
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			m = cloneMap(m)
			delete(m, "path")
			out = append(out, m)
			continue
		}
		out = append(out, item)
	}
	return out
}

func valueCount(value interface{}) (int, bool) {
	switch v := value.(type) {
	case []interface{}:
		return len(v), true
	case []string:
		return len(v), true
	case []map[string]interface{}:
		return len(v), true
	default:
		return 0, false
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		keys := sortedKeys(v)
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, k := range keys {
			kvs = append(kvs, otelLog.String(k, v[k]))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range sortedKeys(values) {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}
	switch recordType {
	case "analysis":
		return analysisSemanticAttributes(data, policy)
	case "metrics":
		return metricsSemanticAttributes(data)
	default:
		return nil
	}
}

func analysisSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	if source, ok := data["source"].(map[string]interface{}); ok {
		if path := getStringField(source, "path"); policy.includePaths && path != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		}
		if size, ok := getInt64Field(source, "size"); ok {
			kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
		}
	}
	kvs = appendStringAttr(kvs, "imgtriage.analysis.error", getStringField(data, "error"))

	summary, ok := data["summary"].(map[string]interface{})
	if !ok {
		return kvs
	}
	kvs = appendStringAttr(kvs, string(semconv.FileNameKey), getStringField(summary, "filename"))
	kvs = appendStringAttr(kvs, "imgtriage.analysis.id", getStringField(summary, "analysis_id"))
	kvs = appendStringAttr(kvs, "imgtriage.analysis.sha256", getStringField(summary, "sha256"))
	kvs = appendStringAttr(kvs, "imgtriage.analysis.risk_path", getStringField(summary, "risk_path"))
	if score, ok := getInt64Field(summary, "risk_score"); ok {
		kvs = append(kvs, otelLog.Int64("imgtriage.analysis.risk_score", score))
	}
	if files, ok := getInt64Field(summary, "file_count"); ok {
		kvs = append(kvs, otelLog.Int64("imgtriage.analysis.file_count", files))
	}
	if unreadable, ok := summary["unreadable"].(bool); ok {
		kvs = append(kvs, otelLog.Bool("imgtriage.analysis.unreadable", unreadable))
	}
	if count, ok := valueCount(summary["suspicious"]); ok {
		kvs = append(kvs, otelLog.Int("imgtriage.analysis.suspicious_count", count))
	}
	return kvs
}

func metricsSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "imgtriage.metrics.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "imgtriage.metrics.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"total_inputs", "inputs_analyzed", "inputs_failed", "files_enumerated"} {
		if v, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("imgtriage.metrics."+key, v))
		}
	}
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		return v
	case nil:
		return nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
