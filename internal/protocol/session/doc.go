// Package session owns the control-plane conversation with the driver agent.
//
// Ownership boundary:
// - control channel connect and versioned handshake
// - data channel discovery (core, module, uncore roles)
// - RunOperation, the single request/response primitive
// - command bindings and their fixed payloads
// - capture start/stop across every data channel
package session
