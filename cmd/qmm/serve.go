package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/api"
	"github.com/samcharles93/qmatmul/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		launchRate  float64
		launchBurst int64
		maxRuns     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the quant matmul launch API",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "launch-rate",
				Usage:       "sustained launches per second (0 = unlimited)",
				Destination: &launchRate,
			},
			&cli.Int64Flag{
				Name:        "launch-burst",
				Usage:       "launches allowed at once above the sustained rate",
				Value:       4,
				Destination: &launchBurst,
			},
			&cli.Int64Flag{
				Name:        "max-runs",
				Usage:       "run records kept in memory (0 = unlimited)",
				Value:       256,
				Destination: &maxRuns,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDeviceConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr, &launchRate, &launchBurst, &maxRuns)

			dev := newDevice()
			service := api.NewLaunchService(dev)
			server := api.NewServer(service, api.ServerConfig{
				LaunchRate:  launchRate,
				LaunchBurst: int(launchBurst),
				MaxRuns:     int(maxRuns),
				Logger:      log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "ai_cores", dev.CoreNum())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
