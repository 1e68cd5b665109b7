// Package builtin contains the tools compiled into the gateway and the
// static catalog that registers them.
//
// Tools that depend on an external backend initialize successfully without
// one and fail at call time with ErrNotConfigured, so a partially configured
// gateway still lists them to authorized callers.
package builtin
