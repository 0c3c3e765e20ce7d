// Package log holds ports.Logger implementations.
package log

import "github.com/bft-labs/casesync/internal/ports"

var _ ports.Logger = NoopLogger{}

// NoopLogger drops every entry. Agents built without WithLogger use it.
type NoopLogger struct{}

// NewNoopLogger returns a logger that writes nothing.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (NoopLogger) Debug(string, ...ports.Field) {}
func (NoopLogger) Info(string, ...ports.Field)  {}
func (NoopLogger) Warn(string, ...ports.Field)  {}
func (NoopLogger) Error(string, ...ports.Field) {}
