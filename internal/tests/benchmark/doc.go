// Package benchmark holds engine-level benchmarks and memory profiles
// that don't belong inside the package they exercise.
package benchmark
