// Package config 加载描述 Agent 部署的 JSON 配置文件，涵盖 Agent 本身、可用网络、
// 决策方式、事件与动作的落点以及日志设置。
package config
