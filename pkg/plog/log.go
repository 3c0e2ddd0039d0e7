// Package plog provides a simple way of logging with different levels for the
// pipboy-go client library and its example relay binary.
//
// Time/Date are not logged by default because the usual host (systemd, a game
// launcher wrapper) already timestamps captured output. Uses the same
// syslog-style priority prefixes as systemd's own convention:
// https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package plog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
)

var (
	// No Time/Date
	DebugLog *log.Logger = log.New(DebugWriter, DebugPrefix, 0)
	InfoLog  *log.Logger = log.New(InfoWriter, InfoPrefix, 0)
	WarnLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	ErrLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.Llongfile)
	// Log Time/Date
	DebugTimeLog *log.Logger = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	InfoTimeLog  *log.Logger = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	WarnTimeLog  *log.Logger = log.New(WarnWriter, WarnPrefix, log.LstdFlags|log.Lshortfile)
	ErrTimeLog   *log.Logger = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel raises the effective log level by discarding writers below it.
// Valid values, from quietest to loudest: "err", "warn", "info", "debug".
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// Nothing to discard.
	default:
		fmt.Fprintf(os.Stderr, "plog: invalid log level %q, defaulting to 'info'\n", lvl)
		SetLevel("info")
	}
}

func SetLogDateTime(logdate bool) {
	logDateTime = logdate
}

func printStr(v ...interface{}) string   { return fmt.Sprint(v...) }
func printfStr(f string, v ...interface{}) string { return fmt.Sprintf(f, v...) }

func Debug(v ...interface{}) {
	if DebugWriter != io.Discard {
		if logDateTime {
			DebugTimeLog.Output(2, printStr(v...))
		} else {
			DebugLog.Output(2, printStr(v...))
		}
	}
}

func Info(v ...interface{}) {
	if InfoWriter != io.Discard {
		if logDateTime {
			InfoTimeLog.Output(2, printStr(v...))
		} else {
			InfoLog.Output(2, printStr(v...))
		}
	}
}

func Warn(v ...interface{}) {
	if WarnWriter != io.Discard {
		if logDateTime {
			WarnTimeLog.Output(2, printStr(v...))
		} else {
			WarnLog.Output(2, printStr(v...))
		}
	}
}

func Error(v ...interface{}) {
	if ErrWriter != io.Discard {
		if logDateTime {
			ErrTimeLog.Output(2, printStr(v...))
		} else {
			ErrLog.Output(2, printStr(v...))
		}
	}
}

func Debugf(format string, v ...interface{}) {
	if DebugWriter != io.Discard {
		if logDateTime {
			DebugTimeLog.Output(2, printfStr(format, v...))
		} else {
			DebugLog.Output(2, printfStr(format, v...))
		}
	}
}

func Infof(format string, v ...interface{}) {
	if InfoWriter != io.Discard {
		if logDateTime {
			InfoTimeLog.Output(2, printfStr(format, v...))
		} else {
			InfoLog.Output(2, printfStr(format, v...))
		}
	}
}

func Warnf(format string, v ...interface{}) {
	if WarnWriter != io.Discard {
		if logDateTime {
			WarnTimeLog.Output(2, printfStr(format, v...))
		} else {
			WarnLog.Output(2, printfStr(format, v...))
		}
	}
}

func Errorf(format string, v ...interface{}) {
	if ErrWriter != io.Discard {
		if logDateTime {
			ErrTimeLog.Output(2, printfStr(format, v...))
		} else {
			ErrLog.Output(2, printfStr(format, v...))
		}
	}
}
