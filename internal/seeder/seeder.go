// Package seeder generates synthetic actor journeys for development and
// load testing. A YAML scenario describes weighted journey templates; the
// seeder walks them per actor and ingests the resulting events.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"insightcore/internal/engine"
	"insightcore/internal/eventstore"
)

// Step is one event template inside a journey.
type Step struct {
	Name          string         `yaml:"name"`
	Properties    map[string]any `yaml:"properties"`
	MaxGapMinutes int            `yaml:"max_gap_minutes"`
	DropoffRate   float64        `yaml:"dropoff_rate"`
}

// Journey is a weighted sequence of steps an actor may follow.
type Journey struct {
	Weight int    `yaml:"weight"`
	Steps  []Step `yaml:"steps"`
}

// Scenario is the full seed description loaded from YAML.
type Scenario struct {
	TeamID           uint                `yaml:"team_id"`
	Actors           int                 `yaml:"actors"`
	Seed             uint64              `yaml:"seed"`
	Start            string              `yaml:"start"`
	Days             int                 `yaml:"days"`
	PersonProperties map[string][]string `yaml:"person_properties"`
	Journeys         []Journey           `yaml:"journeys"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Actors <= 0 {
		sc.Actors = 100
	}
	if sc.Days <= 0 {
		sc.Days = 30
	}
	if sc.TeamID == 0 {
		sc.TeamID = 1
	}
	if len(sc.Journeys) == 0 {
		return nil, fmt.Errorf("scenario has no journeys")
	}
	for i, j := range sc.Journeys {
		if len(j.Steps) == 0 {
			return nil, fmt.Errorf("journey %d has no steps", i)
		}
		if j.Weight <= 0 {
			sc.Journeys[i].Weight = 1
		}
	}
	return &sc, nil
}

func (sc *Scenario) startTime() (time.Time, error) {
	if sc.Start == "" {
		return time.Now().AddDate(0, 0, -sc.Days), nil
	}
	t, err := time.Parse("2006-01-02", sc.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start date: %w", err)
	}
	return t, nil
}

// Seeder drives scenario generation into an ingestor.
type Seeder struct {
	ingestor *eventstore.Ingestor
	logger   *slog.Logger
}

// New creates a seeder.
func New(ingestor *eventstore.Ingestor, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{ingestor: ingestor, logger: logger}
}

// Run generates and ingests the scenario's actors.
func (s *Seeder) Run(ctx context.Context, sc *Scenario) error {
	start, err := sc.startTime()
	if err != nil {
		return err
	}
	seed := sc.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	began := time.Now()
	s.logger.Info("Seeding scenario",
		slog.Int("actors", sc.Actors),
		slog.Int("journeys", len(sc.Journeys)),
		slog.Uint64("seed", seed))

	scope := engine.Scope{TeamID: sc.TeamID}
	bar := progressbar.Default(int64(sc.Actors))

	var pending []eventstore.RawEvent
	for i := 0; i < sc.Actors; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		actorID := fmt.Sprintf("actor-%06d", i)
		pending = append(pending, s.actorEvents(rng, sc, actorID, start)...)
		if len(pending) >= 2000 {
			if err := s.ingestor.Ingest(ctx, scope, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
		_ = bar.Add(1)
	}
	if len(pending) > 0 {
		if err := s.ingestor.Ingest(ctx, scope, pending); err != nil {
			return err
		}
	}

	s.logger.Info("Seeding complete", slog.Duration("elapsed", time.Since(began)))
	return nil
}

// actorEvents walks one randomly chosen journey for an actor. Each step may
// drop off; gaps between steps are uniform up to the step's configured max.
func (s *Seeder) actorEvents(rng *rand.Rand, sc *Scenario, actorID string, start time.Time) []eventstore.RawEvent {
	journey := pickJourney(rng, sc.Journeys)
	personProps := pickPersonProperties(rng, sc.PersonProperties)

	at := start.Add(time.Duration(rng.Int64N(int64(sc.Days)*int64(24*time.Hour))))
	sessionID := uuid.NewString()

	var out []eventstore.RawEvent
	for _, step := range journey.Steps {
		if step.DropoffRate > 0 && rng.Float64() < step.DropoffRate {
			break
		}
		out = append(out, eventstore.RawEvent{
			ActorID:          actorID,
			Name:             step.Name,
			Timestamp:        at,
			SessionID:        sessionID,
			Properties:       step.Properties,
			PersonProperties: personProps,
		})
		if step.MaxGapMinutes > 0 {
			at = at.Add(time.Duration(1+rng.Int64N(int64(step.MaxGapMinutes))) * time.Minute)
		} else {
			at = at.Add(time.Minute)
		}
	}
	return out
}

func pickJourney(rng *rand.Rand, journeys []Journey) *Journey {
	total := 0
	for i := range journeys {
		total += journeys[i].Weight
	}
	n := rng.IntN(total)
	for i := range journeys {
		n -= journeys[i].Weight
		if n < 0 {
			return &journeys[i]
		}
	}
	return &journeys[len(journeys)-1]
}

func pickPersonProperties(rng *rand.Rand, pools map[string][]string) map[string]any {
	if len(pools) == 0 {
		return nil
	}
	out := make(map[string]any, len(pools))
	for key, values := range pools {
		if len(values) == 0 {
			continue
		}
		out[key] = values[rng.IntN(len(values))]
	}
	return out
}
