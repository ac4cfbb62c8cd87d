package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	instanceKeySpan  = "otel:span"
	instanceKeyStart = "otel:start_time"
)

// OTELPlugin GORM OpenTelemetry 插件，为每条 SQL 创建 client span 并记录耗时
type OTELPlugin struct {
	tracer        trace.Tracer
	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram
	config        PluginConfig
}

// PluginConfig 插件配置
type PluginConfig struct {
	ServiceName   string
	EnableMetrics bool
	MaxSQLLength  int
}

// DefaultPluginConfig 默认插件配置
func DefaultPluginConfig(serviceName string) PluginConfig {
	if serviceName == "" {
		serviceName = "tourcheckin"
	}
	return PluginConfig{
		ServiceName:   serviceName,
		EnableMetrics: true,
		MaxSQLLength:  500,
	}
}

// NewOTELPlugin 创建插件实例
func NewOTELPlugin(config PluginConfig) (*OTELPlugin, error) {
	p := &OTELPlugin{
		tracer: otel.Tracer(config.ServiceName + ".gorm"),
		config: config,
	}
	if !config.EnableMetrics {
		return p, nil
	}

	meter := otel.Meter(config.ServiceName + ".gorm")

	var err error
	p.queriesTotal, err = meter.Int64Counter(
		"db.queries.total",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	p.queryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Name 实现 gorm.Plugin 接口
func (p *OTELPlugin) Name() string {
	return "otel_plugin"
}

// Initialize 注册回调
func (p *OTELPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	hooks := []struct {
		name     string
		before   func(string, func(*gorm.DB)) error
		after    func(string, func(*gorm.DB)) error
		internal string
	}{
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register, "query"},
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register, "create"},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register, "update"},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register, "delete"},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register, "row"},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register, "raw"},
	}

	for _, h := range hooks {
		if err := h.before("otel:before_"+h.name, p.beforeCallback); err != nil {
			return err
		}
		if err := h.after("otel:after_"+h.name, p.afterCallback); err != nil {
			return err
		}
	}

	return nil
}

func (p *OTELPlugin) beforeCallback(db *gorm.DB) {
	ctx, span := p.tracer.Start(db.Statement.Context, "db."+tableName(db),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.DBSystemPostgreSQL),
	)

	db.InstanceSet(instanceKeyStart, time.Now())
	db.InstanceSet(instanceKeySpan, span)
	db.Statement.Context = ctx
}

func (p *OTELPlugin) afterCallback(db *gorm.DB) {
	spanValue, ok := db.InstanceGet(instanceKeySpan)
	if !ok {
		return
	}
	span, ok := spanValue.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	operation := OperationName(db.Statement.SQL.String())
	span.SetName(operation + " " + tableName(db))
	span.SetAttributes(
		semconv.DBOperation(operation),
		semconv.DBStatement(truncate(db.Statement.SQL.String(), p.config.MaxSQLLength)),
		attribute.String("db.table", tableName(db)),
		attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
	)

	status := "success"
	switch {
	case db.Error == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(db.Error, gorm.ErrRecordNotFound):
		span.SetStatus(codes.Ok, "record not found")
	default:
		status = "error"
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if !p.config.EnableMetrics {
		return
	}

	var elapsed float64
	if startValue, ok := db.InstanceGet(instanceKeyStart); ok {
		if start, ok := startValue.(time.Time); ok {
			elapsed = time.Since(start).Seconds()
		}
	}
	p.record(db.Statement.Context, operation, status, elapsed)
}

func (p *OTELPlugin) record(ctx context.Context, operation, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation),
		attribute.String("db.status", status),
	)
	p.queriesTotal.Add(ctx, 1, attrs)
	p.queryDuration.Record(ctx, seconds, attrs)
}

// OperationName 从 SQL 中提取操作类型
func OperationName(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return strings.ToLower(op)
		}
	}
	if strings.HasPrefix(sql, "WITH") {
		return "cte"
	}
	return "query"
}

func tableName(db *gorm.DB) string {
	if db.Statement.Table != "" {
		return db.Statement.Table
	}
	return "unknown"
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// WithOTELPlugin 为 GORM 添加 OpenTelemetry 插件
func WithOTELPlugin(db *gorm.DB, serviceName string) error {
	plugin, err := NewOTELPlugin(DefaultPluginConfig(serviceName))
	if err != nil {
		return err
	}
	return db.Use(plugin)
}
