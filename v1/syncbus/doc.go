// Package syncbus propagates lock events (acquired, released) between
// coordinators running in different processes. Events are hints: a lost event
// only delays a waiter until its next retry, it never affects safety.
package syncbus
