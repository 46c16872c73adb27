// Package storage provides the optional alert journal.
//
// Every delivery attempt (alert + sink + outcome) is appended so operators
// can audit what was sent. The journal is write-mostly: it is never replayed
// into the roster tracker, which always starts fresh on process start.
package storage
