// Package protocol owns the pose-service wire contract.
//
// Ownership boundary:
// - command set and the fixed command <-> code table
// - Message <-> frame conversion
// - reply validation and server-reported errors
//
// Typed payload encoding lives in protocol/codec, framing in protocol/frame
// and the connection in protocol/session.
package protocol
