// Package app holds the contract between cmd/relayer and the process it
// starts, so the binary only parses flags and loads configuration.
package app

// Runner is a long-lived process. Run blocks until the process stops and
// returns the reason it stopped abnormally.
type Runner interface {
	Run() error
}
