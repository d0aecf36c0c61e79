// Package posestub is a stand-in pose service that speaks the framed wire
// protocol. It answers with deterministic geometry instead of running a
// network, which makes it suitable for integration tests and local demos.
package posestub
