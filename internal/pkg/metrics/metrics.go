// Package metrics 定义 /metrics 暴露的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttemptsTotal 按流程（local / activate / google）与结果统计认证次数。
	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperscape_auth_attempts_total",
		Help: "Authentication attempts by flow and result.",
	}, []string{"flow", "result"})

	// ActivationEmailsTotal 按结果（sent / failed）统计激活邮件。
	ActivationEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperscape_activation_emails_total",
		Help: "Activation emails by delivery result.",
	}, []string{"result"})

	// TokenRejectionsTotal 按原因统计被访问守卫拒绝的请求。
	TokenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperscape_token_rejections_total",
		Help: "Requests rejected by the access guard.",
	}, []string{"reason"})

	RateLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperscape_ratelimit_rejected_total",
		Help: "Requests rejected by the API rate limiter.",
	})

	RateLimitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperscape_ratelimit_errors_total",
		Help: "Rate limiter backend errors (requests were let through).",
	})
)
