// Package ipc carries one-shot commands from client invocations to the
// primary over JSON-RPC on a Unix domain socket.
//
// The wire surface is a single method, Bridge.Deliver. Payloads are short
// ASCII strings parsed into a Command; queries are routed by a
// case-insensitive "query." prefix and everything else goes to the generic
// command handler. Malformed payloads are logged and dropped on the server
// and never surface as an error to the sender.
//
// The server hands every parsed command to an Executor (the primary's
// dispatcher) and only answers the RPC once the handler has run, so a
// successful Send means the primary has processed the command.
package ipc
