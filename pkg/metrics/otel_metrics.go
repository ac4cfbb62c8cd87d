package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 签到相关指标
	CheckinTransitionsTotal metric.Int64Counter
	CheckinRecordsCreated   metric.Int64Counter
	CheckinBulkItemsTotal   metric.Int64Counter

	// 定时任务相关指标
	JobRunsTotal       metric.Int64Counter
	JobDuration        metric.Float64Histogram
	JobAffectedRecords metric.Int64Counter

	// 活动状态
	ActivityStatusUpdates metric.Int64Counter
}

var (
	// 全局指标实例，未初始化时所有 Record* 都是空操作
	metrics *OTelMetrics
)

// InitMetrics 初始化 OpenTelemetry 指标，需在 otel.SetMeterProvider 之后调用
func InitMetrics() error {
	meter := otel.Meter("tourcheckin")
	m := &OTelMetrics{}

	var err error
	m.CheckinTransitionsTotal, err = meter.Int64Counter(
		"checkin_transitions_total",
		metric.WithDescription("Total number of applied check-in status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	m.CheckinRecordsCreated, err = meter.Int64Counter(
		"checkin_records_created_total",
		metric.WithDescription("Total number of check-in records created by initialization"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}

	m.CheckinBulkItemsTotal, err = meter.Int64Counter(
		"checkin_bulk_items_total",
		metric.WithDescription("Bulk check-in items by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return err
	}

	m.JobRunsTotal, err = meter.Int64Counter(
		"job_runs_total",
		metric.WithDescription("Total number of scheduled job runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Scheduled job run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return err
	}

	m.JobAffectedRecords, err = meter.Int64Counter(
		"job_affected_records_total",
		metric.WithDescription("Records transitioned by scheduled jobs"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}

	m.ActivityStatusUpdates, err = meter.Int64Counter(
		"activity_status_updates_total",
		metric.WithDescription("Activity status transitions applied by the status engine"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordCheckinTransition 记录一次成功的签到状态流转
func RecordCheckinTransition(ctx context.Context, status, method string) {
	if metrics == nil {
		return
	}
	metrics.CheckinTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("method", method),
	))
}

// RecordCheckinRecordsCreated 记录初始化创建的签到记录数量
func RecordCheckinRecordsCreated(ctx context.Context, count int64) {
	if metrics == nil || count <= 0 {
		return
	}
	metrics.CheckinRecordsCreated.Add(ctx, count)
}

// RecordBulkItem 记录批量签到单条结果
func RecordBulkItem(ctx context.Context, outcome string) {
	if metrics == nil {
		return
	}
	metrics.CheckinBulkItemsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordJobRun 记录定时任务执行结果
func RecordJobRun(ctx context.Context, job, status string, seconds float64) {
	if metrics == nil {
		return
	}
	metrics.JobRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
	metrics.JobDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("job", job),
	))
}

// RecordJobAffected 记录定时任务实际变更的记录数
func RecordJobAffected(ctx context.Context, job string, count int64) {
	if metrics == nil || count <= 0 {
		return
	}
	metrics.JobAffectedRecords.Add(ctx, count, metric.WithAttributes(
		attribute.String("job", job),
	))
}

// RecordActivityStatusUpdate 记录活动状态变更
func RecordActivityStatusUpdate(ctx context.Context, from, to string) {
	if metrics == nil {
		return
	}
	metrics.ActivityStatusUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
