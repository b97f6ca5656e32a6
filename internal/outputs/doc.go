// Package outputs implements write_output: named result files written under
// ~/outputs with a UTC timestamp prefix, never overwriting an existing file.
package outputs
