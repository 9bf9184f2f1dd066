package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlexMickh/market-chat/internal/app"
	"github.com/AlexMickh/market-chat/internal/config"
	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.New(ctx, []string{"stdout", "logs.log"}, cfg.Env)

	logger.GetFromCtx(ctx).Info(ctx, "logger is working", zap.String("env", cfg.Env))

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	app := app.Register(initCtx, cfg)
	initCancel()

	app.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	<-stop

	cancel()
	stopCtx, stopCancel := context.WithTimeout(logger.WithLogger(context.Background(), ctx), 10*time.Second)
	defer stopCancel()
	app.GracefulStop(stopCtx)

	logger.GetFromCtx(stopCtx).Info(stopCtx, "server stopped")
	_ = logger.GetFromCtx(stopCtx).Sync()
}
