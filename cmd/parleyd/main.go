package main

import (
	"flag"

	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/daemon"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to config.toml")
	socketFlag := flag.String("socket", "", "admin socket path (overrides config)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: *configFlag,
			SocketPath: *socketFlag,
			Debug:      *debugFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)

	app.Run()
}
