// Package primary is the long-lived padbridge process: it owns the controller
// slot table and services commands and queries from later launches.
//
// Start wires the pieces in order: the dispatch goroutine, the instance guard
// watcher, the command socket, the endpoint publication and (optionally) the
// hotplug monitor. Every handler runs on the dispatch goroutine, so slot state
// needs no locking. Close tears the pieces down in reverse.
package primary
