package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dotcommander/novelist/internal/novel"
)

// LoadSetup reads the novel setup file, the creative brief the whole run is
// driven by. Defaults are applied before validation so minimal setup files
// still pass.
func LoadSetup(path string) (*novel.Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading setup file: %w", err)
	}

	var setup novel.Setup
	if err := yaml.Unmarshal(data, &setup); err != nil {
		return nil, fmt.Errorf("parsing setup file: %w", err)
	}

	if setup.TargetChapters == 0 {
		setup.TargetChapters = 12
	}
	if setup.TargetWordsPerChapter == 0 {
		setup.TargetWordsPerChapter = 3000
	}
	if setup.WordsTolerance == 0 {
		setup.WordsTolerance = 0.2
	}
	if setup.ShortTermMemoryChapters == 0 {
		setup.ShortTermMemoryChapters = 2
	}
	if setup.ShortTermMemoryMaxChars == 0 {
		setup.ShortTermMemoryMaxChars = 8000
	}

	validate := validator.New()
	if err := validate.Struct(&setup); err != nil {
		return nil, fmt.Errorf("setup validation failed: %w", err)
	}
	return &setup, nil
}
