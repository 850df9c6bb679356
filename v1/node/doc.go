// Package node defines the two atomic primitives a quorum lock needs from each
// storage node and provides Redis and in-memory implementations. A node must
// perform set-if-absent-with-expiry and compare-and-delete in a single step,
// otherwise two lock holders could race between a read and a write.
package node
