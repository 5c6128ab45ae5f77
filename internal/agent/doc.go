// Package agent 实现事件驱动的链上智能体，包括生命周期状态机、针对已绑定合约的
// 动作执行、增量指标以及可插拔的 AI 决策能力。
//
// 通过 EmergencyStop 进入 error 状态的 Agent 不会再离开该状态，需要重新构造。
package agent
