// Package logging wires the engine's structured diagnostics.
//
// Every long-lived component takes a *zap.SugaredLogger at construction
// rather than reading a package-level global, so tests can inject a
// development logger (or a no-op one) without touching process state.
package logging

import "go.uber.org/zap"

// NewProduction returns a JSON-structured logger suitable for a running
// system-container host.
func NewProduction() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopment returns a console-formatted, debug-level logger suitable
// for CLI interactive use and tests.
func NewDevelopment() (*zap.SugaredLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewNop returns a logger that discards everything, for tests that don't
// care about diagnostics.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
