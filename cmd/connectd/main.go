package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yanivian/connect-app-sub000/internal/account"
	"github.com/yanivian/connect-app-sub000/internal/daemon"
)

func main() {
	userFlag := flag.String("user", "", "user id (overrides config default_user)")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	quietFlag := flag.Bool("quiet", false, "log to file only")
	flag.Parse()

	cfg, err := account.LoadConfig()
	if err != nil {
		fail(err)
	}
	userID, err := account.Resolve(*userFlag, cfg)
	if err != nil {
		fail(err)
	}
	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fail(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			UserID:   userID,
			Config:   cfg,
			LogLevel: level,
			QuietLog: *quietFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
