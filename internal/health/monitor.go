package health

import (
	"sync"
	"time"

	"tokenflow/logger"
)

// TimeoutBudget is the per-call timeout triple handed to provider adapters in
// place of fixed constants. Connect and Read are fractions of the adaptive
// base; Total is twice the base so slow-but-succeeding calls still finish.
type TimeoutBudget struct {
	Total   time.Duration
	Connect time.Duration
	Read    time.Duration
}

type measurement struct {
	timestamp time.Time
	success   bool
	latency   time.Duration
}

// Monitor keeps a rolling window of recent provider call outcomes and derives
// an adaptive timeout from them. The controller is multiplicative increase /
// multiplicative decrease, growing faster than it shrinks so a flapping
// upstream widens the budget quickly and narrows it cautiously.
type Monitor struct {
	mu sync.Mutex

	window   []measurement
	capacity int

	successRate float64
	avgLatency  time.Duration
	adaptive    time.Duration
	minTimeout  time.Duration
	maxTimeout  time.Duration

	totalRequests  int64
	failedRequests int64

	now func() time.Time
	log *logger.Log
}

// Options configures a Monitor. Zero values fall back to the defaults the
// engine ships with.
type Options struct {
	WindowSize     int
	InitialTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	Now            func() time.Time
}

func NewMonitor(opts Options) *Monitor {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 50
	}
	if opts.InitialTimeout <= 0 {
		opts.InitialTimeout = 1500 * time.Millisecond
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = 800 * time.Millisecond
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 4 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Monitor{
		window:      make([]measurement, 0, opts.WindowSize),
		capacity:    opts.WindowSize,
		successRate: 1.0,
		avgLatency:  500 * time.Millisecond,
		adaptive:    opts.InitialTimeout,
		minTimeout:  opts.MinTimeout,
		maxTimeout:  opts.MaxTimeout,
		now:         opts.Now,
		log:         logger.GetLogger(),
	}
}

// Record appends one call outcome to the rolling window, recomputes the
// success rate and average latency, and applies the adaptive rule.
func (m *Monitor) Record(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if !success {
		m.failedRequests++
	}

	m.window = append(m.window, measurement{
		timestamp: m.now(),
		success:   success,
		latency:   latency,
	})
	if len(m.window) > m.capacity {
		m.window = m.window[1:]
	}

	successes := 0
	var latencySum time.Duration
	for _, entry := range m.window {
		if entry.success {
			successes++
			latencySum += entry.latency
		}
	}

	if len(m.window) > 0 {
		m.successRate = float64(successes) / float64(len(m.window))
	} else {
		m.successRate = 1.0
	}
	if successes > 0 {
		m.avgLatency = latencySum / time.Duration(successes)
	} else {
		m.avgLatency = 500 * time.Millisecond
	}

	if m.successRate < 0.7 || m.avgLatency > time.Second {
		m.adaptive = time.Duration(float64(m.adaptive) * 1.10)
	} else if m.successRate > 0.9 && m.avgLatency < 500*time.Millisecond {
		m.adaptive = time.Duration(float64(m.adaptive) * 0.95)
	}

	if m.adaptive > m.maxTimeout {
		m.adaptive = m.maxTimeout
	}
	if m.adaptive < m.minTimeout {
		m.adaptive = m.minTimeout
	}

	if m.totalRequests%50 == 0 {
		m.log.WithComponent("health").WithFields(logger.Fields{
			"success_rate":     m.successRate,
			"avg_latency_ms":   m.avgLatency.Milliseconds(),
			"adaptive_timeout": m.adaptive.String(),
			"total_requests":   m.totalRequests,
			"failed_requests":  m.failedRequests,
		}).Info("network health")
	}
}

// Budget derives the timeout triple from the current adaptive value.
func (m *Monitor) Budget() TimeoutBudget {
	m.mu.Lock()
	defer m.mu.Unlock()

	return TimeoutBudget{
		Total:   time.Duration(float64(m.adaptive) * 2.0),
		Connect: time.Duration(float64(m.adaptive) * 0.5),
		Read:    time.Duration(float64(m.adaptive) * 0.8),
	}
}

// AdaptiveTimeout exposes the current base timeout.
func (m *Monitor) AdaptiveTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adaptive
}

// SuccessRate reports the success ratio over the current window.
func (m *Monitor) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRate
}

// AvgLatency reports the mean latency of successful calls in the window.
func (m *Monitor) AvgLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgLatency
}
