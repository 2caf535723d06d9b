package translation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// configFile is the on-disk shape a config-provider ruleset file is parsed
// from, mirroring RuleSet's fields with YAML tags.
type configFile struct {
	VersionID string `yaml:"version_id"`
	Sources   []struct {
		Name  string `yaml:"name"`
		Claim string `yaml:"claim"`
		Type  string `yaml:"type"`
	} `yaml:"sources"`
	Transforms map[string][]struct {
		Op          string `yaml:"op"`
		Value       string `yaml:"value"`
		From        string `yaml:"from"`
		To          string `yaml:"to"`
		Pattern     string `yaml:"pattern"`
		Replacement string `yaml:"replacement"`
	} `yaml:"transforms"`
	Mappings struct {
		RoleToPermissions map[string][]string `yaml:"role_to_permissions"`
		DirectPermissions map[string]string    `yaml:"direct_permissions"`
	} `yaml:"mappings"`
	Defaults struct {
		DenyIfNoMatch   bool `yaml:"deny_if_no_match"`
		IncludeUnmapped bool `yaml:"include_unmapped"`
	} `yaml:"defaults"`
}

func sourceTypeFromString(s string) SourceType {
	switch s {
	case "ARRAY":
		return SourceArray
	case "SPACE_DELIMITED":
		return SourceSpaceDelimited
	case "COMMA_DELIMITED":
		return SourceCommaDelimited
	default:
		return SourceString
	}
}

func parseRuleSet(data []byte) (*RuleSet, error) {
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("translation: parse ruleset: %w", err)
	}

	rule := &RuleSet{
		VersionID:  cf.VersionID,
		Transforms: make(map[string][]TransformOp, len(cf.Transforms)),
		Mappings: Mappings{
			RoleToPermissions: cf.Mappings.RoleToPermissions,
			DirectPermissions: cf.Mappings.DirectPermissions,
		},
		Defaults: Defaults{
			DenyIfNoMatch:   cf.Defaults.DenyIfNoMatch,
			IncludeUnmapped: cf.Defaults.IncludeUnmapped,
		},
	}
	for _, s := range cf.Sources {
		rule.Sources = append(rule.Sources, Source{Name: s.Name, Claim: s.Claim, Type: sourceTypeFromString(s.Type)})
	}
	for name, ops := range cf.Transforms {
		converted := make([]TransformOp, 0, len(ops))
		for _, op := range ops {
			converted = append(converted, TransformOp{
				Op: op.Op, Value: op.Value, From: op.From, To: op.To,
				Pattern: op.Pattern, Replacement: op.Replacement,
			})
		}
		rule.Transforms[name] = converted
	}
	return rule, nil
}

// ConfigProvider is the schema-driven, file-backed translation source
// (§4.4 "config"). It hot-reloads its ruleset file on write, grounded on
// the teacher's config.Watcher fsnotify+debounce idiom.
type ConfigProvider struct {
	mu       sync.RWMutex
	rule     *RuleSet
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	onReload func(*RuleSet)
}

// NewConfigProvider loads path and starts watching its containing
// directory for changes.
func NewConfigProvider(path string, logger *zap.Logger) (*ConfigProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("translation: read ruleset %s: %w", path, err)
	}
	rule, err := parseRuleSet(data)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("translation: watcher: %w", err)
	}

	p := &ConfigProvider{
		rule:     rule,
		path:     path,
		watcher:  fsWatcher,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}

	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("translation: watch %s: %w", dir, err)
	}
	go p.watch()

	return p, nil
}

// OnReload registers a callback invoked with the newly-activated RuleSet
// after each successful hot reload (used by Service.SetProvider wiring).
func (p *ConfigProvider) OnReload(cb func(*RuleSet)) {
	p.mu.Lock()
	p.onReload = cb
	p.mu.Unlock()
}

func (p *ConfigProvider) watch() {
	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(p.debounce, p.reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("translation ruleset watcher error", zap.Error(err))
		}
	}
}

func (p *ConfigProvider) reload() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.logger.Error("failed to reload translation ruleset", zap.Error(err))
		return
	}
	rule, err := parseRuleSet(data)
	if err != nil {
		p.logger.Error("failed to parse reloaded translation ruleset", zap.Error(err))
		return
	}

	p.mu.Lock()
	p.rule = rule
	cb := p.onReload
	p.mu.Unlock()

	p.logger.Info("translation ruleset reloaded", zap.String("path", p.path), zap.String("version_id", rule.VersionID))
	if cb != nil {
		cb(rule)
	}
}

func (p *ConfigProvider) Translate(_ context.Context, _, _ string, claims map[string]any) (Result, error) {
	p.mu.RLock()
	rule := p.rule
	p.mu.RUnlock()
	return apply(rule, claims)
}

func (p *ConfigProvider) Priority() int { return 10 }

// Close stops the file watcher.
func (p *ConfigProvider) Close() error {
	return p.watcher.Close()
}
