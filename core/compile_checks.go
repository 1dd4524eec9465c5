package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventSink       = (*EventRouter)(nil)
	_ EventSink       = (*Service)(nil)
	_ UserSessionHost = (*MemoryUserSessionHost)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
