// Package logctx centralizes the go-logging setup shared by every
// package in this module, so each one can obtain a named logger via
// logging.MustGetLogger(name) in an init(), without re-declaring the
// backend/format boilerplate in each package.
package logctx

import (
	"os"

	logging "github.com/op/go-logging"
)

var format = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} [%{module}] %{message}`,
)

func init() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.INFO, "")
	logging.SetBackend(leveled)
}

// New returns a module-scoped logger via the standard
// `logging.MustGetLogger(name)` call-site idiom.
func New(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

// SetLevel overrides the log level for a module (or every module, when
// module is ""), for use as a test-suite log-level hook.
func SetLevel(level logging.Level, module string) {
	logging.SetLevel(level, module)
}
