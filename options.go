// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldscope

import (
	"os"

	"github.com/saferwall/fieldscope/log"
)

// Options configures a Parser's tolerance for malformed input and its
// diagnostics. It is passed once at construction and scoped to the single
// Parser it configures, rather than living behind process-wide flags.
type Options struct {
	// AutoFix converts certain structural errors (a child too large for its
	// parent, a size mismatch at seal time, a read failure mid-producer)
	// into a warning plus a synthetic raw[] field instead of propagating
	// them to the caller. Defaults to true.
	AutoFix bool

	// Debug additionally logs every field the driver adds, at LevelDebug.
	Debug bool

	// Logger receives warnings and debug traces from the field-set driver.
	// A nil Logger defaults to a Helper filtered to LevelError, writing to
	// os.Stderr.
	Logger log.Logger
}

// DefaultOptions returns the engine's default tolerance: autofix enabled,
// debug disabled, errors logged to stderr.
func DefaultOptions() *Options {
	return &Options{
		AutoFix: true,
		Debug:   false,
		Logger:  log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)),
	}
}

func (o *Options) helper() *log.Helper {
	if o == nil || o.Logger == nil {
		return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
	}
	return log.NewHelper(o.Logger)
}

func (o *Options) autoFix() bool {
	return o == nil || o.AutoFix
}
