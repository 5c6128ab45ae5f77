// Package metrics 维护 Agent 的累计执行统计，不保留历史观测。
package metrics

import (
	"encoding/json"
	"sync"
	"time"
)

// AgentMetrics 汇总 Agent 已执行的动作。
type AgentMetrics struct {
	TotalActions uint64
	SuccessRate  float64
	AvgGasUsed   float64
	Uptime       time.Duration
	LastActionAt *time.Time
}

// Initial 返回尚未执行任何动作时的指标。
func Initial() AgentMetrics {
	return AgentMetrics{SuccessRate: 1}
}

// Observe 将一次执行结果计入 m 并返回新值。成功次数由上一次的成功率还原，
// 不单独计数：
//
//	successes = n*r (+1 on success)
//	rate      = successes / (n+1)
//	avgGas    = (g*n + gasUsed) / (n+1)
func (m AgentMetrics) Observe(success bool, gasUsed uint64, at time.Time) AgentMetrics {
	n := float64(m.TotalActions)
	successes := n * m.SuccessRate
	if success {
		successes++
	}
	total := n + 1

	next := m
	next.TotalActions++
	next.SuccessRate = successes / total
	next.AvgGasUsed = (m.AvgGasUsed*n + float64(gasUsed)) / total
	if !at.IsZero() {
		ts := at
		next.LastActionAt = &ts
	}
	return next
}

// Clone 返回不与 m 共享指针的副本。
func (m AgentMetrics) Clone() AgentMetrics {
	out := m
	if m.LastActionAt != nil {
		ts := *m.LastActionAt
		out.LastActionAt = &ts
	}
	return out
}

type wireMetrics struct {
	TotalActions uint64     `json:"totalActions"`
	SuccessRate  float64    `json:"successRate"`
	AvgGasUsed   float64    `json:"avgGasUsed"`
	UptimeMillis int64      `json:"uptime"`
	LastActionAt *time.Time `json:"lastActionAt"`
}

// MarshalJSON 以毫秒输出运行时长。
func (m AgentMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMetrics{
		TotalActions: m.TotalActions,
		SuccessRate:  m.SuccessRate,
		AvgGasUsed:   m.AvgGasUsed,
		UptimeMillis: m.Uptime.Milliseconds(),
		LastActionAt: m.LastActionAt,
	})
}

// UnmarshalJSON 是 MarshalJSON 的逆操作。
func (m *AgentMetrics) UnmarshalJSON(data []byte) error {
	var w wireMetrics
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = AgentMetrics{
		TotalActions: w.TotalActions,
		SuccessRate:  w.SuccessRate,
		AvgGasUsed:   w.AvgGasUsed,
		Uptime:       time.Duration(w.UptimeMillis) * time.Millisecond,
		LastActionAt: w.LastActionAt,
	}
	return nil
}

// Aggregator 串行地应用观测，并发执行不会丢失更新。
type Aggregator struct {
	mu      sync.Mutex
	current AgentMetrics
	now     func() time.Time
}

// NewAggregator 以 Initial() 为初值创建聚合器。
func NewAggregator() *Aggregator {
	return &Aggregator{current: Initial(), now: time.Now}
}

// Record 计入一次结果并返回新快照。
func (a *Aggregator) Record(success bool, gasUsed uint64) AgentMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.current.Observe(success, gasUsed, a.now())
	return a.current.Clone()
}

// AddUptime 累加一段已结束的运行时长。
func (a *Aggregator) AddUptime(d time.Duration) AgentMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d > 0 {
		a.current.Uptime += d
	}
	return a.current.Clone()
}

// Snapshot 返回当前指标。
func (a *Aggregator) Snapshot() AgentMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Clone()
}

// Restore 用外部加载的快照替换当前累计值。
func (a *Aggregator) Restore(m AgentMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = m.Clone()
}
