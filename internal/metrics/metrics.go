// Package metrics 提供 eidos-ubi 的 Prometheus 监控指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "eidos_ubi"

// 领取指标
var (
	// ClaimsTotal 领取请求总数
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "UBI 领取请求总数",
		},
		[]string{"result"}, // result: success 或错误码
	)

	// ClaimAmount 单次领取金额分布
	ClaimAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_amount",
			Help:      "单次领取金额",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 30, 36, 50},
		},
		[]string{"reason"},
	)

	// ClaimLatency 领取处理耗时
	ClaimLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_latency_seconds",
			Help:      "领取处理耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// 分配指标
var (
	// DistributionsTotal 社区分配执行总数
	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_total",
			Help:      "社区分配执行总数",
		},
		[]string{"result"},
	)

	// DistributedAmount 已分配金额
	DistributedAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributed_amount_total",
			Help:      "社区分配累计金额",
		},
		[]string{"community_id"},
	)
)

// 计算任务指标
var (
	// ComputationJobsTotal 计算任务终态计数
	ComputationJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computation_jobs_total",
			Help:      "计算任务总数",
		},
		[]string{"type", "status"},
	)

	// ComputationDuration 计算任务耗时
	ComputationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_duration_seconds",
			Help:      "计算任务耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"type"},
	)

	// PendingComputations 未完成的计算任务数
	PendingComputations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "computation_jobs_pending",
			Help:      "未完成的计算任务数",
		},
	)

	// MaintenanceRunsTotal 维护任务执行次数
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "维护任务执行次数",
		},
		[]string{"job_name", "status"},
	)
)

// RecordClaim 记录领取结果
func RecordClaim(result, reason string, amount decimal.Decimal, duration time.Duration) {
	ClaimsTotal.WithLabelValues(result).Inc()
	ClaimLatency.Observe(duration.Seconds())
	if result == "success" {
		f, _ := amount.Float64()
		ClaimAmount.WithLabelValues(reason).Observe(f)
	}
}

// RecordDistribution 记录分配结果
func RecordDistribution(communityID, result string, total decimal.Decimal) {
	DistributionsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		f, _ := total.Float64()
		DistributedAmount.WithLabelValues(communityID).Add(f)
	}
}

// RecordComputation 记录计算任务终态
func RecordComputation(jobType, status string, duration time.Duration) {
	ComputationJobsTotal.WithLabelValues(jobType, status).Inc()
	ComputationDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetPendingComputations 设置未完成任务数
func SetPendingComputations(n int) {
	PendingComputations.Set(float64(n))
}

// RecordMaintenance 记录维护任务执行
func RecordMaintenance(jobName, status string) {
	MaintenanceRunsTotal.WithLabelValues(jobName, status).Inc()
}
