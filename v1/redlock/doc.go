// Package redlock implements a mutual-exclusion lock on top of N independent
// storage nodes. A lock is held when a strict majority of nodes accepted the
// same random token and the remaining validity window, after subtracting the
// time spent and a clock drift margin, is still positive. Failed attempts are
// rolled back with compare-and-delete so a minority of nodes never keeps a
// stale vote, and release never removes a lock owned by someone else.
//
// The coordinator keeps no timers and never renews a lock: the ttl stored on
// each node is the safety net, Release is an optimization.
package redlock
