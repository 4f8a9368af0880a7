package main

import (
	"os"

	btclogv1 "github.com/btcsuite/btclog"
	btclog "github.com/btcsuite/btclog/v2"

	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/build"
	"github.com/codewatch/codewatch/internal/config"
	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
	"github.com/codewatch/codewatch/internal/web"
)

// log is the main package's logger, assigned by setupLoggers.
var log btclog.Logger = btclog.Disabled

// setupLoggers builds the console (and optional rotating file) handler set
// and hands each subsystem its own tagged logger. The returned function
// flushes and closes the file rotator.
func setupLoggers(cfg *config.Config) (func(), error) {
	handlers := []btclog.Handler{
		btclog.NewDefaultHandler(os.Stdout),
	}
	closeFn := func() {}

	if cfg.Log.Dir != "" {
		rotatorCfg := build.DefaultLogRotatorConfig()
		rotatorCfg.LogDir = cfg.Log.Dir

		logWriter := build.NewRotatingLogWriter()
		if err := logWriter.InitLogRotator(rotatorCfg); err != nil {
			return nil, err
		}

		handlers = append(
			handlers, btclog.NewDefaultHandler(logWriter),
		)
		closeFn = func() {
			_ = logWriter.Close()
		}
	}

	set := build.NewHandlerSet(handlers...)

	level, ok := btclogv1.LevelFromString(cfg.Log.Level)
	if !ok {
		level = btclogv1.LevelInfo
	}
	set.SetLevel(level)

	newSub := func(tag string) btclog.Logger {
		return btclog.NewSLogger(set.SubSystem(tag))
	}

	log = newSub("CWTD")
	actor.UseLogger(newSub("ACTR"))
	fanout.UseLogger(newSub("FANH"))
	watch.UseLogger(newSub("WTCH"))
	correlate.UseLogger(newSub("CORR"))
	web.UseLogger(newSub("WEBS"))

	return closeFn, nil
}
