package ethereum

// AgentABI is the minimal surface agents rely on: one entry point for actions
// and the event it emits.
const AgentABI = `[
  {"type":"function","name":"executeAction","stateMutability":"nonpayable",
   "inputs":[{"name":"actionType","type":"string"},{"name":"params","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"ActionExecuted","anonymous":false,
   "inputs":[{"name":"executor","type":"address","indexed":true},{"name":"actionType","type":"string","indexed":false}]}
]`

const executeMethod = "executeAction"
