// Package megapose is a blocking client for a remote 6D object pose
// estimation service.
//
// Every operation validates its inputs before touching the connection, then
// performs exactly one request/reply exchange while holding the connection
// lock. Replies are checked against the expected command; an ERROR reply
// surfaces as *protocol.ServerError.
package megapose
