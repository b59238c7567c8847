// Package audit buffers security events and hands them to a Sink off the
// request path.
//
// The engine decides which events to emit. This package only owns buffering
// and delivery: a Dispatcher relays events from a bounded channel to a single
// Sink goroutine, dropping or blocking when the buffer is full depending on
// Config.DropIfFull.
package audit
