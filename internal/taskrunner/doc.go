// Package taskrunner executes pipeline tasks from every active book on one
// bounded, priority-ordered worker pool.
//
// Tasks are ordered by Kind: ENCODE (1) runs before PREPARE (2), which runs
// before MERGE (3). Equal kinds run in submission order. The dispatcher only
// pops a task once a worker slot is free, so the ordering holds even with a
// pool of one.
//
// Preferring chunk encodes keeps the pool saturated across many books, at
// the cost that a steady stream of ENCODE tasks delays PREPARE and MERGE
// indefinitely.
package taskrunner
