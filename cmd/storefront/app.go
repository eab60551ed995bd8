package main

import (
	"fmt"

	"github.com/nkiryanov/storefront/internal/api"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/service/auth"
	"github.com/nkiryanov/storefront/internal/service/favorite"
	"github.com/nkiryanov/storefront/internal/session"
)

type App struct {
	SessionFile string

	logger    logger.Logger
	sessions  *session.Store
	manager   *auth.Manager
	favorites *favorite.Store
}

func NewApp(c *Config) (*App, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Initialize session persisted to file
	storage, err := session.NewFileStorage(c.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("error while opening session storage: %w", err)
	}
	sessions, err := session.NewStore(storage, logger)
	if err != nil {
		return nil, fmt.Errorf("error while loading session: %w", err)
	}

	// Initialize services
	client := api.NewClient(c.APIURL, api.WithTimeout(c.RequestTimeout), api.WithLogger(logger))
	manager, err := auth.NewManager(auth.Config{RefreshTimeout: c.RefreshTimeout}, client, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth manager: %w", err)
	}
	favorites, err := favorite.NewStore(manager, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating favorites store: %w", err)
	}

	return &App{
		SessionFile: storage.Path,
		logger:      logger,
		sessions:    sessions,
		manager:     manager,
		favorites:   favorites,
	}, nil
}

func (a *App) Close() {
	a.favorites.Close()
}
