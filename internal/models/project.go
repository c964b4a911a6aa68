package models

import (
	"fmt"
	"time"
)

// RigorLevel controls whether missing evidence fails hard or warns
type RigorLevel string

const (
	RigorExploratory  RigorLevel = "exploratory"
	RigorConservative RigorLevel = "conservative"
)

// Valid reports whether r is a known rigor level
func (r RigorLevel) Valid() bool {
	return r == RigorExploratory || r == RigorConservative
}

// ProjectContext is the slice of project fields injected into prompts.
type ProjectContext struct {
	Title             string   `json:"title,omitempty"`
	Thesis            string   `json:"thesis,omitempty"`
	ResearchQuestions []string `json:"research_questions,omitempty"`
	AntiScope         []string `json:"anti_scope,omitempty"`
	RigorLevel        string   `json:"rigor_level,omitempty"`
	TargetJournal     string   `json:"target_journal,omitempty"`
}

// Project is a research project owning documents, claims and manuscript blocks.
type Project struct {
	ID                string     `json:"id" badgerhold:"key"`
	Title             string     `json:"title" validate:"required"`
	Thesis            string     `json:"thesis" validate:"required"`
	ResearchQuestions []string   `json:"research_questions" validate:"required,min=1"`
	AntiScope         []string   `json:"anti_scope,omitempty"`
	TargetJournal     string     `json:"target_journal,omitempty"`
	SeedFiles         []string   `json:"seed_files,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	RigorLevel        RigorLevel `json:"rigor_level" validate:"required,oneof=exploratory conservative"`
	Archived          bool       `json:"archived"`
	CreatedAt         time.Time  `json:"created_at"`
	LastUpdated       time.Time  `json:"last_updated"`
}

// Validate checks the project invariants
func (p *Project) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("project title is required")
	}
	if p.Thesis == "" {
		return fmt.Errorf("project thesis is required")
	}
	if len(p.ResearchQuestions) == 0 {
		return fmt.Errorf("project requires at least one research question")
	}
	if !p.RigorLevel.Valid() {
		return fmt.Errorf("invalid rigor level: %s", p.RigorLevel)
	}
	return nil
}

// AddSeedFile appends a seed filename, deduplicated and order-preserving
func (p *Project) AddSeedFile(name string) {
	for _, existing := range p.SeedFiles {
		if existing == name {
			return
		}
	}
	p.SeedFiles = append(p.SeedFiles, name)
}

// Context extracts the prompt-injection slice of the project
func (p *Project) Context() *ProjectContext {
	return &ProjectContext{
		Title:             p.Title,
		Thesis:            p.Thesis,
		ResearchQuestions: p.ResearchQuestions,
		AntiScope:         p.AntiScope,
		RigorLevel:        string(p.RigorLevel),
		TargetJournal:     p.TargetJournal,
	}
}

// ExternalReference is a pointer to an external knowledge source whose facts
// can be layered into the cartographer context ahead of canonical knowledge.
type ExternalReference struct {
	ID        string    `json:"id" badgerhold:"key"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Facts     []Claim   `json:"facts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
