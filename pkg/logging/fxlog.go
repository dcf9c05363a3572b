package logging

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// UseLoggingInterface makes fx log its lifecycle events to the
// logging.Interface provided inside the container being built.
var UseLoggingInterface fx.Option = fx.WithLogger(
	func(logger Interface) fxevent.Logger {
		return &fxLoggerAdapter{Interface: logger}
	},
)

type fxLoggerAdapter struct{ Interface }

// LogEvent logs an fx app event to the underlying logging.Interface.
func (f fxLoggerAdapter) LogEvent(event fxevent.Event) {
	log := f.Interface.WithField("fx", "event")

	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		log.WithField("callee", e.FunctionName).Debug("OnStart hook executing")
	case *fxevent.OnStartExecuted:
		doneOrErr("OnStart hook", e.Err,
			log.WithField("callee", e.FunctionName).
				WithField("runtime", e.Runtime.String()))
	case *fxevent.OnStopExecuting:
		log.WithField("callee", e.FunctionName).Debug("OnStop hook executing")
	case *fxevent.OnStopExecuted:
		doneOrErr("OnStop hook", e.Err,
			log.WithField("callee", e.FunctionName).
				WithField("runtime", e.Runtime.String()))
	case *fxevent.Provided:
		if e.Err != nil {
			log.WithError(e.Err).Error("error encountered while applying options")
		}
	case *fxevent.Invoking:
		log.WithField("function", e.FunctionName).Debug("Invoking")
	case *fxevent.Invoked:
		if e.Err != nil {
			log.WithField("function", e.FunctionName).
				WithField("stack", e.Trace).
				WithError(e.Err).
				Error("Invoke failed")
		}
	case *fxevent.Stopping:
		log.WithField("signal", strings.ToUpper(e.Signal.String())).
			Info("Stopping: received signal")
	case *fxevent.Stopped:
		doneOrErr("App stop", e.Err, log)
	case *fxevent.RollingBack:
		doneOrErr("Start failed, rolling back", e.StartErr, log)
	case *fxevent.RolledBack:
		doneOrErr("Rollback", e.Err, log)
	case *fxevent.Started:
		doneOrErr("App start", e.Err, log)
	case *fxevent.LoggerInitialized:
		doneOrErr("Custom logger initialization", e.Err, log)
	}
}

func doneOrErr(msg string, err error, log Interface) {
	if err == nil {
		log.Info(msg + " succeeded")
		return
	}

	log.WithError(err).Error(msg + " failed")
}
