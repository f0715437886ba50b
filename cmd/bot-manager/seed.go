// ABOUTME: Loads users, workers and code artifacts from a YAML file into the directory
// ABOUTME: Bot credentials are bcrypt-hashed before they are stored

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/2389/bot-manager/internal/auth"
	"github.com/2389/bot-manager/internal/config"
	"github.com/2389/bot-manager/internal/directory"
	"github.com/2389/bot-manager/internal/gateway"
)

// seedFile is the layout accepted by "bot-manager seed".
type seedFile struct {
	Users []struct {
		ID         string `yaml:"id"`
		ExternalID string `yaml:"external_id"`
		Workers    []struct {
			ID         string `yaml:"id"`
			ExternalID string `yaml:"external_id"`
			Name       string `yaml:"name"`
			RunCommand string `yaml:"run_command"`
			Deployment string `yaml:"deployment"`
			Credential string `yaml:"credential"`
			Code       []struct {
				ID        string `yaml:"id"`
				Filename  string `yaml:"filename"`
				Directory string `yaml:"directory"`
				Source    string `yaml:"source"`
			} `yaml:"code"`
		} `yaml:"workers"`
	} `yaml:"users"`
}

// seeder is the write side of the SQL directory.
type seeder interface {
	CreateUser(ctx context.Context, u *directory.User) error
	CreateWorker(ctx context.Context, w *directory.Worker) error
	CreateArtifact(ctx context.Context, a *directory.Artifact) error
}

func orNewID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// seed writes every record in data. It returns the number of workers added.
func seed(ctx context.Context, s seeder, data []byte) (int, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parsing seed file: %w", err)
	}

	workers := 0
	for _, u := range f.Users {
		user := &directory.User{InternalID: orNewID(u.ID), ExternalID: u.ExternalID}
		if err := s.CreateUser(ctx, user); err != nil {
			return workers, fmt.Errorf("user %s: %w", u.ExternalID, err)
		}

		for _, w := range u.Workers {
			var hash string
			if w.Credential != "" {
				h, err := auth.HashCredential(w.Credential)
				if err != nil {
					return workers, fmt.Errorf("hashing credential for %s: %w", w.ExternalID, err)
				}
				hash = h
			}
			worker := &directory.Worker{
				InternalID:     orNewID(w.ID),
				ExternalID:     w.ExternalID,
				UserID:         user.InternalID,
				Name:           w.Name,
				RunCommand:     w.RunCommand,
				Deployment:     w.Deployment,
				CredentialHash: hash,
			}
			if err := s.CreateWorker(ctx, worker); err != nil {
				return workers, fmt.Errorf("worker %s: %w", w.ExternalID, err)
			}
			workers++

			for _, c := range w.Code {
				a := &directory.Artifact{
					ID:        orNewID(c.ID),
					WorkerID:  worker.InternalID,
					Filename:  c.Filename,
					Directory: c.Directory,
					Contents:  []byte(c.Source),
				}
				if err := s.CreateArtifact(ctx, a); err != nil {
					return workers, fmt.Errorf("code %s: %w", c.Filename, err)
				}
			}
		}
	}
	return workers, nil
}

func runSeed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bot-manager seed FILE")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	dir, err := gateway.OpenDirectory(cfg, logger)
	if err != nil {
		return err
	}
	defer dir.Close()

	n, err := seed(ctx, dir, data)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d worker(s)\n", n)
	return nil
}
