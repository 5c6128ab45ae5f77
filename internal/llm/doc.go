// Package llm 将各家大模型适配为 Agent 的交易或治理决策。适配器只需填充 Response，
// 由 agent 包转换为决策记录。
package llm
