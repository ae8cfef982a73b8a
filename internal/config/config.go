package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"scriptrunner/internal/core"
)

// EnvPrefix prefixes the environment variable form of every setting key,
// e.g. SCRIPTRUNNER_WORKITEM_ID.
const EnvPrefix = "SCRIPTRUNNER_"

// ErrInvalid marks settings that cannot be used to start a work item.
var ErrInvalid = errors.New("invalid settings")

type Settings struct {
	WorkItemID           string `yaml:"workitem_id"`
	WorkItemFriendlyName string `yaml:"workitem_friendly_name"`
	CorrelationID        string `yaml:"correlation_id"`
	PayloadDir           string `yaml:"workitem_payload_dir"`
	WorkingDir           string `yaml:"workitem_working_dir"`
	EventURI             string `yaml:"event_uri"`
	OutputURI            string `yaml:"output_uri"`
	LedgerDSN            string `yaml:"ledger_dsn"`
	ConsoleLog           string `yaml:"console_log"`
}

// Keys lists every setting this program reads. Settings files may carry
// other keys; they are ignored.
var Keys = []string{
	"workitem_id",
	"workitem_friendly_name",
	"correlation_id",
	"workitem_payload_dir",
	"workitem_working_dir",
	"event_uri",
	"output_uri",
	"ledger_dsn",
	"console_log",
}

func Default() Settings {
	return Settings{
		PayloadDir: ".",
		WorkingDir: ".",
	}
}

// Load layers defaults, the settings file at path (JSON or YAML, optional),
// environment variables and name=value overrides, in that order, then
// validates the result.
func Load(path string, overrides Overrides, lookupEnv func(string) (string, bool)) (Settings, error) {
	doc := map[string]any{}
	if err := merge(doc, Default()); err != nil {
		return Settings{}, err
	}

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
		fileDoc, err := parseDocument(path, content)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
		for key, value := range fileDoc {
			doc[key] = value
		}
	}

	if lookupEnv != nil {
		for _, key := range Keys {
			if value, ok := lookupEnv(EnvPrefix + strings.ToUpper(key)); ok {
				doc[key] = value
			}
		}
	}

	values, err := overrides.Values()
	if err != nil {
		return Settings{}, err
	}
	for key, value := range values {
		doc[key] = value
	}

	if err := Validate(doc); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg, err := decode(doc)
	if err != nil {
		return Settings{}, err
	}
	cfg.PayloadDir = fixPath(cfg.PayloadDir)
	cfg.WorkingDir = fixPath(cfg.WorkingDir)
	cfg.ConsoleLog = fixPath(cfg.ConsoleLog)
	return cfg, nil
}

func (s Settings) WorkItem() core.WorkItem {
	return core.WorkItem{
		ID:            s.WorkItemID,
		FriendlyName:  s.WorkItemFriendlyName,
		CorrelationID: s.CorrelationID,
		PayloadDir:    s.PayloadDir,
		WorkingDir:    s.WorkingDir,
		EventURI:      s.EventURI,
		OutputURI:     s.OutputURI,
	}
}

// Overrides collects repeated name=value flags.
type Overrides []string

func (o *Overrides) String() string {
	return strings.Join(*o, ",")
}

func (o *Overrides) Set(value string) error {
	if _, _, ok := strings.Cut(value, "="); !ok {
		return fmt.Errorf("setting %q is not in name=value form", value)
	}
	*o = append(*o, value)
	return nil
}

func (o Overrides) Values() (map[string]string, error) {
	out := make(map[string]string, len(o))
	for _, item := range o {
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: setting %q is not in name=value form", ErrInvalid, item)
		}
		out[name] = value
	}
	return out, nil
}

// parseDocument reads .json files as JSON and everything else as YAML.
func parseDocument(path string, content []byte) (map[string]any, error) {
	var doc map[string]any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func merge(doc map[string]any, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return err
	}
	for key, value := range defaults {
		if str, ok := value.(string); ok && str == "" {
			continue
		}
		doc[key] = value
	}
	return nil
}

func decode(doc map[string]any) (Settings, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	var cfg Settings
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg, nil
}

// fixPath turns a settings path into a clean native path. Backslashes are
// treated as separators on Windows, and elsewhere only when the path has no
// forward slash at all, so a POSIX name that contains a backslash survives.
func fixPath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.Separator == '\\' || !strings.Contains(path, "/") {
		path = strings.ReplaceAll(path, `\`, "/")
	}
	return filepath.Clean(filepath.FromSlash(path))
}
