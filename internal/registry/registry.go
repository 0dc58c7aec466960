package registry

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/missionctl/orchestrator/internal/model"
)

var (
	// ErrNoWorkers is returned when the registry file defines no workers
	ErrNoWorkers = errors.New("registry defines no workers")

	// ErrDuplicateWorker is returned when two profiles share a name
	ErrDuplicateWorker = errors.New("duplicate worker name")
)

// workerSpec is the on-disk shape of a worker profile
type workerSpec struct {
	Name                string   `mapstructure:"name"`
	Capabilities        []string `mapstructure:"capabilities"`
	SpecializationScore float64  `mapstructure:"specialization_score"`
	DescriptionKeywords []string `mapstructure:"description_keywords"`
}

// Load reads worker profiles from a YAML registry file. Profiles are loaded
// once per mission and treated as read-only afterwards; re-loading is an
// external lifecycle event, not something the core watches for.
func Load(path string, logger *zap.Logger) ([]*model.Worker, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read worker registry: %w", err)
	}

	var specs []workerSpec
	if err := v.UnmarshalKey("workers", &specs); err != nil {
		return nil, fmt.Errorf("failed to decode worker registry: %w", err)
	}
	if len(specs) == 0 {
		return nil, ErrNoWorkers
	}

	seen := make(map[string]struct{}, len(specs))
	workers := make([]*model.Worker, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("worker profile with empty name in %s", path)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorker, spec.Name)
		}
		if len(spec.Capabilities) == 0 {
			return nil, fmt.Errorf("worker %s has no capabilities", spec.Name)
		}
		seen[spec.Name] = struct{}{}

		workers = append(workers, &model.Worker{
			Name:                spec.Name,
			Capabilities:        spec.Capabilities,
			SpecializationScore: spec.SpecializationScore,
			DescriptionKeywords: spec.DescriptionKeywords,
		})
	}

	logger.Info("Loaded worker registry",
		zap.String("path", path),
		zap.Int("workers", len(workers)))

	return workers, nil
}
