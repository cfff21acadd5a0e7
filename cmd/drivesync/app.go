package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/config"
	"github.com/openmined/drivesync/internal/drive"
	syncer "github.com/openmined/drivesync/internal/sync"
)

// app is a fully wired engine with its drives and baseline store.
type app struct {
	cfg    *config.Config
	local  *drive.LocalDrive
	remote drive.Drive
	store  *baseline.SQLStore
	engine *syncer.Engine
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	local, err := drive.NewLocalDrive(cfg.LocalDir)
	if err != nil {
		return nil, err
	}

	remote, err := openRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ignore, err := syncer.LoadIgnoreList(local.Fs(), cfg.Ignore, cfg.Include)
	if err != nil {
		return nil, err
	}

	policy, err := syncer.PolicyByName(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := syncer.NewEngine(syncer.EngineConfig{
		Local:           local,
		Remote:          remote,
		Store:           store,
		Policy:          policy,
		Ignore:          ignore,
		Workers:         cfg.Workers,
		CaseInsensitive: cfg.CaseInsensitive,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	slog.Info("drivesync", "local", cfg.LocalDir, "remote", remote.Name(), "baseline", store.Path(), "policy", cfg.ConflictPolicy)

	return &app{
		cfg:    cfg,
		local:  local,
		remote: remote,
		store:  store,
		engine: engine,
	}, nil
}

func openRemote(ctx context.Context, cfg *config.Config) (drive.Drive, error) {
	if cfg.Remote.IsDir() {
		return drive.NewLocalDrive(cfg.Remote.Dir)
	}
	return drive.NewS3Drive(ctx, &cfg.Remote.S3Config)
}

func openStore(ctx context.Context, cfg *config.Config) (*baseline.SQLStore, error) {
	store := baseline.NewSQLStore(cfg.DBPath)
	if err := store.Open(ctx); err != nil {
		if errors.Is(err, baseline.ErrStoreLocked) {
			return nil, fmt.Errorf("another drivesync process is using %s: %w", cfg.DBPath, err)
		}
		return nil, err
	}
	return store, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
