// Package core implements the build engine at the heart of drake: the
// node/builder graph, the hash-based staleness oracle with its mtime
// fast-path, the job-slot scheduler, the dynamic-dependency protocol and the
// on-disk build database. It uses idiomatic Go error handling, which can
// make writing build scripts directly against core a bit cumbersome; the
// [drake] package wraps it with a friendlier surface for everyday build
// scripts. The core concepts are [Session], [Node] and [Builder].
//
// [drake]: https://pkg.go.dev/git.fractalqb.de/fractalqb/drake
package core
