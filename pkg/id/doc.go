// Package id generates time-ordered 128-bit message identifiers.
//
// IDs sort lexicographically in creation order, so embedding them in store
// keys yields FIFO iteration without a separate sequence column.
package id
