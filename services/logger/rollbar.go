package logsvc

import (
	"strconv"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
)

type RollbarLogger struct {
	local *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger reports to Rollbar and mirrors every entry to the local zap logger.
func NewRollbarLogger(local *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{local: local.Sugar()}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Sync flushes the local logger and waits for queued Rollbar items.
func (l RollbarLogger) Sync() {
	_ = l.local.Sync()
	rollbar.Wait()
}

// expected fmt: msg | error, map[string]interface{}, user.Record
func (l RollbarLogger) prepare(msg string, args []interface{}) (rb []interface{}, fields []interface{}) {
	var usrSet bool
	var nArgs int
	rb = make([]interface{}, 0, len(args)+1)
	rb = append(rb, msg)
	for _, arg := range args {
		var usr *user.Record
		switch a := arg.(type) {
		case user.Record:
			usr = &a
		case *user.Record:
			usr = a
		}
		if usr != nil {
			if !usrSet { // only set one user
				rollbar.SetPerson(strconv.Itoa(usr.ID), usr.FullName(), usr.Email)
				fields = append(fields, "user_id", usr.ID)
				usrSet = true
			}
			continue
		}

		rb = append(rb, arg)
		switch a := arg.(type) {
		case error:
			fields = append(fields, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				fields = append(fields, k, v)
			}
		default:
			fields = append(fields, "arg"+strconv.Itoa(nArgs), a)
			nArgs++
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rb, fields
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rb, fields := l.prepare(msg, args)
	rollbar.Debug(rb...)
	l.local.Debugw(msg, fields...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rb, fields := l.prepare(msg, args)
	rollbar.Info(rb...)
	l.local.Infow(msg, fields...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rb, fields := l.prepare(msg, args)
	rollbar.Warning(rb...)
	l.local.Warnw(msg, fields...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rb, fields := l.prepare(msg, args)
	rollbar.Error(rb...)
	l.local.Errorw(msg, fields...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rb, fields := l.prepare(msg, args)
	rollbar.Critical(rb...)
	rollbar.Wait()
	l.local.Fatalw(msg, fields...)
}
