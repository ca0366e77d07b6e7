// Package pool holds idle rescuer links waiting to be paired with a client.
//
// The pool is a mutex-guarded stack: the most recently registered link is
// handed out first. It never blocks; an empty pool is reported with
// ErrPoolEmpty and the caller decides what to tell the client.
package pool
