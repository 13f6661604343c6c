// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persona manages the agent's identities: an ordered list with one
// active persona, persisted inside the runtime configuration.
package persona

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/llm"
)

// Store manages personas inside the config blob. Mutations are serialised
// and flushed atomically through config.Save.
type Store struct {
	mu  sync.Mutex
	cfg *config.Config
	llm llm.LLM
}

// NewStore wraps the config. The LLM is used to expand persona
// descriptions; it may be nil, in which case descriptions are used as-is.
func NewStore(cfg *config.Config, model llm.LLM) *Store {
	return &Store{cfg: cfg, llm: model}
}

// List returns all personas in order.
func (s *Store) List() []config.PersonaConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.PersonaConfig, len(s.cfg.Agent.Personas))
	copy(out, s.cfg.Agent.Personas)
	return out
}

// Active returns the active persona.
func (s *Store) Active() config.PersonaConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.cfg.Agent.Personas {
		if p.ID == s.cfg.Agent.ActivePersona {
			return p
		}
	}
	return s.cfg.Agent.Personas[0]
}

// SetActive switches the active persona by name, id, or 1-based index.
func (s *Store) SetActive(ref string) (config.PersonaConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.find(ref)
	if err != nil {
		return config.PersonaConfig{}, err
	}
	s.cfg.Agent.ActivePersona = p.ID
	return *p, s.save()
}

// find resolves a persona by 1-based index, id, or case-insensitive name.
// Callers hold the mutex.
func (s *Store) find(ref string) (*config.PersonaConfig, error) {
	personas := s.cfg.Agent.Personas
	if idx, err := strconv.Atoi(strings.TrimSpace(ref)); err == nil {
		if idx < 1 || idx > len(personas) {
			return nil, fmt.Errorf("persona index %d is out of range 1-%d", idx, len(personas))
		}
		return &personas[idx-1], nil
	}
	for i := range personas {
		if personas[i].ID == ref || strings.EqualFold(personas[i].Name, ref) {
			return &personas[i], nil
		}
	}
	return nil, fmt.Errorf("no persona named %q", ref)
}

// expandPrompt turns a short description into a second-person persona
// prompt via the LLM. Falls back to a template without one.
func (s *Store) expandPrompt(ctx context.Context, name, language, description string) string {
	fallback := fmt.Sprintf(
		"You are %s, an assistant for exploring a code knowledge graph. %s You answer in %s with evidence from the graph.",
		name, description, language)
	if s.llm == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Write a persona prompt in the second person ("You are …") for an AI assistant
that explores a code knowledge graph. Expand this description into 3-5 sentences covering tone,
priorities, and how the assistant presents evidence. Output only the persona text.

Name: %s
Language: %s
Description: %s`, name, language, description)

	expanded, err := s.llm.Generate(ctx, prompt, &llm.Options{MaxTokens: 512})
	if err != nil || strings.TrimSpace(expanded) == "" {
		return fallback
	}
	return strings.TrimSpace(expanded)
}

// Create adds a persona and persists it. The description is expanded into
// the persona prompt.
func (s *Store) Create(ctx context.Context, name, color, language, description string) (config.PersonaConfig, error) {
	if name == "" {
		return config.PersonaConfig{}, fmt.Errorf("persona name is required")
	}
	if color == "" {
		color = "white"
	}
	if language == "" {
		language = "English"
	}
	valid := false
	for _, c := range config.PersonaColors {
		if c == color {
			valid = true
			break
		}
	}
	if !valid {
		return config.PersonaConfig{}, fmt.Errorf("invalid color %q (valid: %s)",
			color, strings.Join(config.PersonaColors, ", "))
	}

	s.mu.Lock()
	for _, p := range s.cfg.Agent.Personas {
		if strings.EqualFold(p.Name, name) {
			s.mu.Unlock()
			return config.PersonaConfig{}, fmt.Errorf("persona %q already exists", name)
		}
	}
	s.mu.Unlock()

	// The LLM call happens outside the lock.
	personaText := s.expandPrompt(ctx, name, language, description)

	p := config.PersonaConfig{
		ID:          uuid.NewString(),
		Name:        name,
		Color:       color,
		Language:    language,
		Description: description,
		Persona:     personaText,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Agent.Personas = append(s.cfg.Agent.Personas, p)
	return p, s.save()
}

// Delete removes a persona. Built-in personas are refused; deleting the
// active persona activates the first remaining one.
func (s *Store) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.find(ref)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return fmt.Errorf("persona %q is built in and cannot be deleted", p.Name)
	}
	if len(s.cfg.Agent.Personas) == 1 {
		return fmt.Errorf("cannot delete the last persona")
	}

	id := p.ID
	kept := s.cfg.Agent.Personas[:0]
	for _, candidate := range s.cfg.Agent.Personas {
		if candidate.ID != id {
			kept = append(kept, candidate)
		}
	}
	s.cfg.Agent.Personas = kept

	if s.cfg.Agent.ActivePersona == id {
		s.cfg.Agent.ActivePersona = kept[0].ID
	}
	return s.save()
}

// save flushes the config when it is bound to a file. In-memory configs
// (tests, ephemeral sessions) mutate without persisting.
func (s *Store) save() error {
	if s.cfg.Path() == "" {
		return nil
	}
	return s.cfg.Save()
}
