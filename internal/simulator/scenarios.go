package simulator

import (
	"maps"
	"sort"
	"time"
)

// DefaultScenario 是未知场景名称回退到的场景。
const DefaultScenario = "normal_trading"

// Event 是场景中的一条合成事件，Offset 为相对场景开始的时间。
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Offset    time.Duration  `json:"offset"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e Event) clone() Event {
	e.Data = maps.Clone(e.Data)
	return e
}

var catalog = map[string][]Event{
	"normal_trading": {
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2000.0, "change": 0.5}, Offset: 0},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2010.0, "change": 0.5}, Offset: 5 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1995.0, "change": -0.75}, Offset: 10 * time.Second},
	},
	"high_volatility": {
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2000.0, "change": 8.0}, Offset: 0},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1760.0, "change": -12.0}, Offset: 2 * time.Second},
		{Type: "volume_spike", Data: map[string]any{"token": "ETH", "volume": 850000.0, "change": 300.0}, Offset: 3 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1936.0, "change": 10.0}, Offset: 4 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1800.0, "change": -7.0}, Offset: 6 * time.Second},
	},
	"liquidity_crisis": {
		{Type: "liquidity_change", Data: map[string]any{"pool": "ETH/USDC", "liquidity": 5000000.0, "change": -20.0}, Offset: 0},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1700.0, "change": -15.0}, Offset: 3 * time.Second},
		{Type: "liquidity_change", Data: map[string]any{"pool": "ETH/USDC", "liquidity": 2500000.0, "change": -50.0}, Offset: 6 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 1450.0, "change": -14.7}, Offset: 9 * time.Second},
	},
	"bull_run": {
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2060.0, "change": 3.0}, Offset: 0},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2142.0, "change": 4.0}, Offset: 5 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2270.0, "change": 6.0}, Offset: 10 * time.Second},
		{Type: "price_change", Data: map[string]any{"token": "ETH", "price": 2384.0, "change": 5.0}, Offset: 15 * time.Second},
	},
}

// Scenarios 返回内置场景名称。
func Scenarios() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup 返回场景事件的副本，未知名称回退到默认场景，resolved 为实际使用的名称。
func Lookup(name string) (events []Event, resolved string) {
	list, ok := catalog[name]
	resolved = name
	if !ok {
		list = catalog[DefaultScenario]
		resolved = DefaultScenario
	}
	events = make([]Event, len(list))
	for i, e := range list {
		events[i] = e.clone()
	}
	return events, resolved
}
