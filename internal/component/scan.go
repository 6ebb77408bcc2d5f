package component

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
)

// MetaFiles are the descriptor names looked up in a component folder, in order.
var MetaFiles = []string{"meta.yaml", "meta.yml", "meta.json"}

// Scanner registers the components found below a root folder.
type Scanner struct {
	container *Container
	root      string
	prefix    string
	logger    logging.Logger
}

// NewScanner creates a scanner serving components from root under the url prefix.
func NewScanner(container *Container, root, prefix string, logger logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	// Watcher events carry absolute paths.
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Scanner{
		container: container,
		root:      root,
		prefix:    strings.TrimSuffix(prefix, "/"),
		logger:    logger.WithComponent("scanner"),
	}
}

// Scan registers every folder of root that has a meta file. Folders whose
// name starts with '_' or '.' are skipped. A broken descriptor is logged and
// does not stop the scan.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeFileNotFound, "reading component root "+s.root, err)
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		cfg, err := s.Load(filepath.Join(s.root, name))
		if err != nil {
			s.logger.Warn(ctx, err, "Skipping component folder", "dir", name)
			continue
		}
		if cfg == nil {
			continue
		}
		s.container.Register(cfg)
		count++
	}

	s.logger.Info(ctx, "Component folder scanned", "root", s.root, "components", count)
	return count, nil
}

// Load reads the component descriptor of dir. It returns nil, nil when dir has none.
func (s *Scanner) Load(dir string) (*Config, error) {
	for _, name := range MetaFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "reading "+name, err)
		}

		var cfg Config
		// JSON descriptors are valid YAML.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeValidationFailed,
				fmt.Sprintf("decoding %s: %v", filepath.Join(dir, name), err))
		}
		cfg.Dir = dir
		if cfg.ID == "" {
			cfg.ID = filepath.Base(dir)
		}
		if cfg.URL == "" {
			cfg.URL = path.Join(s.prefix, filepath.Base(dir))
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return nil, nil
}

// Reload re-registers the component owning the changed meta file, or
// removes it when the descriptor is gone.
func (s *Scanner) Reload(ctx context.Context, metaPath string) error {
	dir := filepath.Dir(metaPath)
	cfg, err := s.Load(dir)
	if err != nil {
		return err
	}
	if cfg != nil {
		s.container.Register(cfg)
		s.logger.Info(ctx, "Component reloaded", "module", cfg.ModuleID())
		return nil
	}

	for _, existing := range s.container.GetAll() {
		if existing.Dir == dir {
			s.container.Remove(existing.ModuleID())
			s.logger.Info(ctx, "Component removed", "module", existing.ModuleID())
		}
	}
	return nil
}
