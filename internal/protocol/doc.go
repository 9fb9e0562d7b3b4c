// Package protocol owns the vocabulary shared by the sampling driver client.
//
// Ownership boundary:
// - error kinds raised across packages
// - control command ids
// - channel roles
//
// Record layouts live in protocol/wire and protocol/schema.
package protocol
