// Package preflight provides readiness checks for the directories and kernel
// facilities padbridge depends on.
//
// The CLI "padbridge status" command runs RunAll and prints each Result; the
// primary runs the runtime directory check before it creates any named
// object so a misconfigured namespace fails loudly instead of falling back to
// an unprotected instance.
package preflight
