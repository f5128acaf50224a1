// Package namedobj provides host-wide named objects addressable by a shared
// string: fixed-size memory regions, exclusion mutexes and notification
// events.
//
// Objects live in a Namespace, a private runtime directory. Every handle holds
// a shared flock on its object file for as long as it is open; an object whose
// file nobody holds any more is considered gone, which gives the same lifetime
// rules as kernel named objects: the last Close reclaims it and a crashed
// holder never leaves a live-looking object behind. Namespace metadata
// operations (create, open, close) serialize on a namespace-wide lock file so
// create-or-open is idempotent across processes.
//
// Regions are mmap'd files, events store their state in a one byte file and
// wake waiters through inotify, and mutexes are exclusive flocks that record
// their holder so an acquisition after a crash reports abandonment.
package namedobj
