package main

import (
	"sort"

	"AgentKit-Chain/internal/agent"
	"AgentKit-Chain/internal/config"
)

// agentTemplate 是 init 与 test 命令使用的预设。
type agentTemplate struct {
	Name        string
	Description string
	Type        agent.Type
	Autonomy    agent.Autonomy
	Triggers    []string
	Scenario    string
}

var templates = map[string]agentTemplate{
	"defi": {
		Name:        "defi",
		Description: "根据价格与流动性变化交易",
		Type:        agent.TypeDeFi,
		Autonomy:    agent.AutonomyMedium,
		Triggers:    []string{"price_change", "liquidity_change"},
		Scenario:    "normal_trading",
	},
	"gaming": {
		Name:        "gaming",
		Description: "响应游戏内经济事件",
		Type:        agent.TypeGaming,
		Autonomy:    agent.AutonomyHigh,
		Triggers:    []string{"player_action", "price_change"},
		Scenario:    "high_volatility",
	},
	"governance": {
		Name:        "governance",
		Description: "跟踪提案并保守投票",
		Type:        agent.TypeGovernance,
		Autonomy:    agent.AutonomyLow,
		Triggers:    []string{"proposal_created", "vote_cast"},
		Scenario:    "liquidity_crisis",
	},
	"custom": {
		Name:        "custom",
		Description: "不带触发器的空白 Agent",
		Type:        agent.TypeCustom,
		Autonomy:    agent.AutonomyMedium,
		Scenario:    "normal_trading",
	},
}

func templateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// configFor 生成模板对应的配置文件内容。
func configFor(tpl agentTemplate, name string) *config.Config {
	if name == "" {
		name = "my-" + tpl.Name + "-agent"
	}
	return &config.Config{
		Agent: config.AgentConfig{
			Name:          name,
			Type:          string(tpl.Type),
			Autonomy:      string(tpl.Autonomy),
			Triggers:      append([]string(nil), tpl.Triggers...),
			Network:       "mock",
			PrivateKeyEnv: "AGENT_PRIVATE_KEY",
		},
		Simulator: config.SimulatorConfig{
			DurationMS: 60_000,
			DelayMS:    1_000,
			Scenario:   tpl.Scenario,
		},
		LLM:     config.LLMConfig{Provider: "rule"},
		Sink:    config.SinkConfig{Driver: "none"},
		Journal: config.JournalConfig{Driver: "memory", DataDir: "data"},
		Monitor: config.MonitorConfig{Address: ":8080"},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

const envExample = `# deploy 与 monitor 使用的签名私钥，切勿提交真实值。
AGENT_PRIVATE_KEY=
# 仅在 llm.provider 为 "openai" 时需要。
OPENAI_API_KEY=
`
