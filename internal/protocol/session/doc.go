// Package session owns the single TCP connection to a pose service.
//
// Ownership boundary:
// - literal-address dial and connection options
// - whole-frame send and receive
// - the exclusivity lock that serialises request/response cycles
//
// A Session does not impose timeouts on Send or Receive; callers that need a
// deadline set it on the connection themselves.
package session
