// Package diagnostics configures logging and produces collector reports.
package diagnostics

import (
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// ConfigureLogging sets the verbosity of every logger and, when path is not
// empty, sends log output to that file instead of stderr. Verbosity 0 logs
// errors only, each step up adds warnings, notices, info and debug.
func ConfigureLogging(verbosity int, path string) {
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}
