// Package api 通过 HTTP 暴露运行中的 Agent：配置与状态、动作日志、生命周期控制、
// Prometheus 指标，以及转发事件总线全部事件的 websocket 流。
package api
