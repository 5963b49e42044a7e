// Package app wires configuration into a ready session and CSV fetcher.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/JayJamieson/csv-sql/pkg/config"
	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/nl2sql"
	"github.com/JayJamieson/csv-sql/pkg/session"
	"github.com/JayJamieson/csv-sql/pkg/source"
	"go.uber.org/zap"
)

type App struct {
	Session *session.Session
	Fetcher *source.Fetcher
}

// New opens the configured store and text generator. A missing API key is not
// an error: the session still loads and executes, and generation fails with a
// synthesis error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := db.New(cfg.Store.Engine, cfg.Store.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var generator nl2sql.TextGenerator
	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		generator, err = nl2sql.NewGenerator(ctx, nl2sql.ProviderConfig{
			Provider:    cfg.LLM.Provider,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize text generator: %w", err)
		}
		logger.Info("text generator ready", zap.String("generator", generator.Name()))
	} else {
		logger.Warn("no LLM API key configured, SQL generation is disabled")
	}

	opts := []source.Option{source.WithMaxBytes(cfg.Upload.MaxBytes)}
	if s3 := cfg.Source.S3; s3.Endpoint != "" {
		objects, err := source.NewS3(source.S3Config{
			Endpoint:        s3.Endpoint,
			Region:          s3.Region,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UseSSL:          s3.UseSSL,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, source.WithObjectGetter(objects))
	}

	sess := session.New(store, generator, logger, session.Options{
		TableName:    cfg.Table.Name,
		SampleValues: cfg.Describe.SampleValues,
	})

	return &App{Session: sess, Fetcher: source.NewFetcher(opts...)}, nil
}

func (a *App) Close() error {
	return a.Session.Close()
}
