package main

import (
	"errors"

	"github.com/adammathes/markclip/internal/clip"
)

var (
	// ErrExtraction wraps any failure to turn a fetched page into an article.
	ErrExtraction = errors.New("article extraction failed")
	// ErrNoContent is returned when readability finds nothing to keep.
	ErrNoContent = errors.New("no readable content")
	// ErrFetch wraps network and HTTP status failures.
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidOptions is returned for option files with unknown values.
	ErrInvalidOptions = clip.ErrInvalidOptions
)
