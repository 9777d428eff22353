// Package audit buffers security events and hands them to a Sink off the request path.
//
// Sinks: ChannelSink for tests and in-process consumers, JSONWriterSink for line
// delimited files, SlogSink for the service log, NoOpSink. The Dispatcher either drops
// on a full buffer (counting drops) or blocks until the caller's context ends.
//
// This package decides nothing about which events exist; the engine does.
package audit
