package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/config"
	"github.com/tinyoslab/tinyfs/internal/crypto"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/filesys"
	"github.com/tinyoslab/tinyfs/internal/freemap"
	"github.com/tinyoslab/tinyfs/internal/logger"
	"github.com/tinyoslab/tinyfs/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel())

	logger.Info("tinyfs server starting")
	logger.Info("listen address: %s", cfg.ListenAddr)
	logger.Info("disk image: %s", cfg.DiskPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DiskPath), 0755); err != nil {
		logger.Error("cannot create disk directory: %v", err)
		os.Exit(1)
	}

	dev, format, err := openDevice(cfg)
	if err != nil {
		logger.Error("cannot open disk image: %v", err)
		os.Exit(1)
	}
	defer dev.Close()

	fs, err := filesys.Mount(dev, format)
	if err != nil {
		logger.Error("mount failed: %v", err)
		os.Exit(1)
	}

	srv, err := server.New(fs, crypto.DeriveKey(cfg.EncryptKey), cfg.AuthToken)
	if err != nil {
		logger.Error("cannot create server: %v", err)
		os.Exit(1)
	}
	if err := srv.Start(cfg.ListenAddr); err != nil {
		logger.Error("cannot start server: %v", err)
		os.Exit(1)
	}

	logger.Info("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	srv.Stop()
	logger.Info("server stopped")
}

// openDevice opens the configured disk image, creating and formatting a
// fresh one when it does not exist yet or a reformat was requested.
func openDevice(cfg *config.Config) (*block.FileDevice, bool, error) {
	_, statErr := os.Stat(cfg.DiskPath)
	if os.IsNotExist(statErr) || cfg.Format {
		sectors := cfg.DiskSectors
		if sectors > freemap.MaxSectors {
			sectors = freemap.MaxSectors
		}
		dev, err := block.CreateFile(cfg.DiskPath, domain.SectorNum(sectors))
		return dev, true, err
	}
	if statErr != nil {
		return nil, false, statErr
	}
	dev, err := block.OpenFile(cfg.DiskPath)
	return dev, false, err
}
