package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/driftwatch/core"
	"github.com/hupe1980/driftwatch/logging"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Logger receives a warning per skipped file. Defaults to NoOp logger.
	Logger logging.Logger
}

// Loader reads scenario files from disk. Files that fail to parse are
// logged and skipped so one broken scenario never blocks a batch.
type Loader struct {
	logger logging.Logger
}

// NewLoader constructs a Loader.
func NewLoader(optFns ...func(o *LoaderOptions)) *Loader {
	opts := LoaderOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Loader{logger: opts.Logger}
}

// Load accepts either a single scenario file or a directory of scenario
// files and returns every scenario that parsed.
func (l *Loader) Load(path string) ([]*core.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat scenario path: %w", err)
	}

	if info.IsDir() {
		return l.LoadDir(path)
	}

	s, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	return []*core.Scenario{s}, nil
}

// LoadDir parses every *.md file in dir, in name order. Unparseable files
// are logged and skipped; an empty directory yields an empty slice.
func (l *Loader) LoadDir(dir string) ([]*core.Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var scenarios []*core.Scenario

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}

		path := filepath.Join(dir, e.Name())

		s, err := ParseFile(path)
		if err != nil {
			l.logger.Warn("skipping scenario", "path", path, "error", err)
			continue
		}

		scenarios = append(scenarios, s)
	}

	return scenarios, nil
}
