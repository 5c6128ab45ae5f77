// Package web3 defines how agents reach a ledger: a network registry, a
// connector that turns a network into a live Chain, and the narrow contract
// surface used to submit actions, deploy code and follow on-chain events.
// Concrete backends live in the ethereum and mockchain subpackages.
package web3
