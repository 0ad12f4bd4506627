package main

import (
	"flag"
	"fmt"

	"bridge-backend/internal/app"
	"bridge-backend/internal/config"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the relayer config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("configuration invalid")
	}

	container, err := app.NewContainer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer container.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.WithField("addr", addr).Info("relayer listening")
	if err := container.Router.Run(addr); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
