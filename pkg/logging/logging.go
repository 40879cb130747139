/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging wires up the process-wide logr.Logger, backed by zap, and
// injects it into a context.Context the way sigs.k8s.io/controller-runtime's
// log package expects.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	controllerruntimelog "sigs.k8s.io/controller-runtime/pkg/log"
)

// NewLogger builds a zap-backed logr.Logger. debug raises the level to
// zapcore.DebugLevel and switches to the development encoder config, mirroring
// the "-d/--debug" CLI flag.
func NewLogger(debug bool) logr.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zapLog, err := cfg.Build()
	if err != nil {
		// Building a zap logger from a well-formed static config cannot fail
		// in practice; fall back to a no-op logger rather than panic.
		return logr.Discard()
	}
	return zapr.NewLogger(zapLog)
}

// IntoContext stores logger in ctx under the same key controller-runtime's
// log.FromContext reads, so the rest of the codebase can just call
// log.FromContext(ctx) without importing this package.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return controllerruntimelog.IntoContext(ctx, logger)
}

// FromContext is a thin re-export for call sites that prefer not to import
// controller-runtime directly.
func FromContext(ctx context.Context) logr.Logger {
	return controllerruntimelog.FromContext(ctx)
}
