package agent

// Operation 表示一次生命周期请求。
type Operation string

// 生命周期操作。
const (
	OpStart         Operation = "start"
	OpStop          Operation = "stop"
	OpPause         Operation = "pause"
	OpResume        Operation = "resume"
	OpEmergencyStop Operation = "emergency_stop"
)

// StateMachine 是生命周期状态转换表，自身不保存状态，当前状态由 Agent 持有。
type StateMachine struct{}

// Apply 返回在 current 上执行 op 后的状态。当前状态下无需变化的请求返回
// changed=false，调用方按成功处理。
func (StateMachine) Apply(current Status, op Operation) (next Status, changed bool) {
	switch op {
	case OpStart:
		if current == StatusIdle || current == StatusPaused {
			return StatusRunning, true
		}
	case OpStop:
		if current == StatusRunning {
			return StatusIdle, true
		}
	case OpPause:
		if current == StatusRunning {
			return StatusPaused, true
		}
	case OpResume:
		if current == StatusPaused {
			return StatusRunning, true
		}
	case OpEmergencyStop:
		if current != StatusError {
			return StatusError, true
		}
	}
	return current, false
}
