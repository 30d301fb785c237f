
package seed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"qpgen-server/models"
	"qpgen-server/pattern"
)

// File mirrors the layout of seed.yaml: reference rows the engine needs
// before any bank can be ingested.
type File struct {
	Schools     []string `yaml:"schools"`
	Departments []struct {
		Name   string `yaml:"name"`
		School string `yaml:"school"`
	} `yaml:"departments"`
	GridTypes []string `yaml:"grid_types"`
	Users     []struct {
		Email string `yaml:"email"`
		Name  string `yaml:"name"`
		Role  string `yaml:"role"`
	} `yaml:"users"`
	Patterns []struct {
		Name     string                   `yaml:"name"`
		Sections map[string]sectionConfig `yaml:"sections"`
	} `yaml:"patterns"`
}

type sectionConfig struct {
	Marks        int    `yaml:"marks"`
	AnswerCount  int    `yaml:"count"`
	TotalInPaper int    `yaml:"total"`
	Note         string `yaml:"note"`
}

// Load reads the seed file and upserts its rows. A missing file is not an
// error: a fresh deployment can start empty and be populated over the API.
func Load(ctx context.Context, pool *pgxpool.Pool, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("seed file %s not found, skipping seed", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for _, name := range f.Schools {
		_, err := pool.Exec(ctx,
			`INSERT INTO schools (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return fmt.Errorf("failed to seed school %s: %w", name, err)
		}
	}

	for _, d := range f.Departments {
		_, err := pool.Exec(ctx, `
			INSERT INTO departments (school_id, name)
			VALUES ((SELECT id FROM schools WHERE name = $1), $2)
			ON CONFLICT (school_id, name) DO NOTHING
		`, d.School, d.Name)
		if err != nil {
			return fmt.Errorf("failed to seed department %s: %w", d.Name, err)
		}
	}

	for _, name := range f.GridTypes {
		_, err := pool.Exec(ctx,
			`INSERT INTO grid_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return fmt.Errorf("failed to seed grid type %s: %w", name, err)
		}
	}

	for _, u := range f.Users {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (email, name, role) VALUES ($1, $2, $3)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
		`, u.Email, u.Name, u.Role)
		if err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Email, err)
		}
	}

	for _, p := range f.Patterns {
		existing, err := pattern.GetPatternByName(ctx, pool, p.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		sections := make(map[string]models.SectionConfig, len(p.Sections))
		for label, sc := range p.Sections {
			sections[label] = models.SectionConfig{
				Marks: sc.Marks, AnswerCount: sc.AnswerCount, TotalInPaper: sc.TotalInPaper, Note: sc.Note,
			}
		}
		if _, err := pattern.CreatePattern(ctx, pool, p.Name, sections); err != nil {
			return fmt.Errorf("failed to seed pattern %s: %w", p.Name, err)
		}
	}

	log.Printf("seed file %s applied", path)
	return nil
}
