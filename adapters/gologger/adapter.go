package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-authflow/adapters/gojob"
	"github.com/goliatone/go-authflow/core"
)

// DefaultLoggerName is the logger name requested from providers when none is given.
const DefaultLoggerName = "authflow"

// Loggers bundles one resolved logger stack for the router and its queue worker.
type Loggers struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	if name == "" {
		name = DefaultLoggerName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	out := Loggers{Provider: resolvedProvider, Logger: resolvedLogger}
	if resolvedProvider != nil {
		out.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		out.JobLogger = job.GoLogger(resolvedLogger)
	}
	return out
}

// ServiceOptions returns the core options that install the resolved loggers.
func (l Loggers) ServiceOptions() []core.Option {
	opts := make([]core.Option, 0, 2)
	if l.Provider != nil {
		opts = append(opts, core.WithLoggerProvider(l.Provider))
	}
	if l.Logger != nil {
		opts = append(opts, core.WithLogger(l.Logger))
	}
	return opts
}

// WorkerHook returns a go-job worker hook logging through the resolved logger.
func (l Loggers) WorkerHook() *gojob.LoggingHook {
	return gojob.NewLoggingHook(l.Logger)
}

// WorkerOptions wires the resolved logger into a delivery worker.
func (l Loggers) WorkerOptions() []gojob.WorkerOption {
	return []gojob.WorkerOption{
		gojob.WithWorkerLogger(l.Logger),
		gojob.WithWorkerHook(l.WorkerHook()),
	}
}
