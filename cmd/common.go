/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/valpere/doctran/internal/config"
	"github.com/valpere/doctran/internal/detector"
	"github.com/valpere/doctran/internal/learning"
	"github.com/valpere/doctran/internal/orchestrator"
	"github.com/valpere/doctran/internal/prompt"
	"github.com/valpere/doctran/internal/store"
	"github.com/valpere/doctran/internal/terms"
	"github.com/valpere/doctran/internal/translator"
	"github.com/valpere/doctran/internal/validator"
)

// services bundles the long-lived collaborators shared by the translate
// and serve commands.
type services struct {
	db       *store.Store
	recorder *learning.Recorder
	orch     *orchestrator.Orchestrator
}

// buildServices opens the store and wires the orchestrator for cfg.
// Callers close the returned store.
func buildServices(cfg config.Config, logger *slog.Logger) (*services, error) {
	if !translator.HasCredentials(cfg.Provider, cfg.Service(cfg.Provider)) {
		logger.Warn("provider has no credentials, requests must supply api_key", "provider", cfg.Provider)
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	terms.NewGlossaryProjection(db).Attach(db)

	det := detector.New()
	recorder := learning.New(db, logger)
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:    db,
		Terms:    terms.New(db, logger),
		Prompts:  prompt.New(cfg.PromptsDir, logger),
		Detector: det,
		Guard:    validator.New(det),
		Recorder: recorder,
		Logger:   logger,
	})
	return &services{db: db, recorder: recorder, orch: orch}, nil
}
