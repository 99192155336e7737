package credflow

import (
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Flow labels used on credflow_flow_total.
const (
	flowRequestSignup  = "request_signup"
	flowVerifySignup   = "verify_signup"
	flowSignin         = "signin"
	flowRefresh        = "refresh"
	flowSignout        = "signout"
	flowRequestReset   = "request_reset"
	flowVerifyOTP      = "verify_otp"
	flowResetPassword  = "reset_password"
	flowChangePassword = "change_password"
	flowBlacklist      = "blacklist"
	flowBlacklistAll   = "blacklist_all"
)

const (
	outboxNotify = "notify"
	outboxAudit  = "audit"
)

// Metrics counts flow outcomes and dropped outbox items. A nil *Metrics is a
// no-op.
type Metrics struct {
	flows   *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

// NewMetrics registers the engine counters on reg. Registering twice on the
// same registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("metrics registerer required")
	}
	if namespace == "" {
		namespace = "credflow"
	}

	flows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_total",
			Help:      "Auth flow invocations by outcome.",
		},
		[]string{"flow", "outcome"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dropped_total",
			Help:      "Notifications and audit events dropped because the outbox was full.",
		},
		[]string{"outbox"},
	)

	var err error
	if flows, err = registerCounterVec(reg, flows); err != nil {
		return nil, err
	}
	if dropped, err = registerCounterVec(reg, dropped); err != nil {
		return nil, err
	}

	return &Metrics{flows: flows, dropped: dropped}, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// observe records one flow outcome: "success" or the error Kind.
func (m *Metrics) observe(flow string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.flows.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) drop(outbox string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(outbox).Inc()
}

// FlowStat is the number of flow invocations that ended with Outcome.
type FlowStat struct {
	Flow    string
	Outcome string
	Count   uint64
}

// MetricsSnapshot is a point-in-time copy of the engine's in-process
// counters. It is populated whether or not Prometheus is enabled.
type MetricsSnapshot struct {
	Flows                []FlowStat
	NotificationsDropped uint64
	AuditDropped         uint64
}

type flowKey struct {
	flow    string
	outcome string
}

type flowCounter struct {
	mu     sync.Mutex
	counts map[flowKey]uint64
}

func newFlowCounter() *flowCounter {
	return &flowCounter{counts: make(map[flowKey]uint64)}
}

func (c *flowCounter) add(flow string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	c.mu.Lock()
	c.counts[flowKey{flow: flow, outcome: outcome}]++
	c.mu.Unlock()
}

// snapshot returns the counts sorted by flow, then outcome.
func (c *flowCounter) snapshot() []FlowStat {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	out := make([]FlowStat, 0, len(c.counts))
	for k, v := range c.counts {
		out = append(out, FlowStat{Flow: k.flow, Outcome: k.outcome, Count: v})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Flow != out[j].Flow {
			return out[i].Flow < out[j].Flow
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}
