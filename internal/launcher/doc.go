// Package launcher implements what one padbridge invocation does.
//
// A plain launch consults the instance guard: the first process becomes the
// primary and runs until shutdown; any later one signals it and returns. A
// launch that carries a command skips the guard entirely, resolves the
// primary's endpoint, delivers the command and, for queries, waits for the
// answer through the result exchange.
package launcher
