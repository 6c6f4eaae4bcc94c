package main

import (
	"fmt"
	"os"

	"github.com/adammathes/markclip/internal/clip"
	"github.com/goccy/go-yaml"
)

// Title length bounds applied to the options file.
const (
	minTitleLength = 50
	maxTitleLength = 500
)

// loadOptions reads a YAML options file layered over the defaults. An empty
// path returns the defaults. Unknown keys are rejected.
func loadOptions(path string) (clip.Options, error) {
	opts := clip.DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading options: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &opts, yaml.Strict()); err != nil {
		return opts, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, path, err)
	}

	switch {
	case opts.MaxTitleLength == 0:
		opts.MaxTitleLength = clip.DefaultOptions().MaxTitleLength
	case opts.MaxTitleLength < minTitleLength:
		opts.MaxTitleLength = minTitleLength
	case opts.MaxTitleLength > maxTitleLength:
		opts.MaxTitleLength = maxTitleLength
	}

	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}
