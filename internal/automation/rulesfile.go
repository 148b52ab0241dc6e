package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// RuleSet is the file form of a ticket's automation configuration.
type RuleSet struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Rules   []Rule `json:"rules"`
}

// LoadRuleSet reads rules from a .yaml/.yml, .json or .jsonc file. The file
// may hold either a list of rules or an object with a "rules" list.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ParseRuleSet(data, format)
}

// ParseRuleSet decodes and validates rules in the given format ("yaml",
// "yml", "json" or "jsonc").
func ParseRuleSet(data []byte, format string) (RuleSet, error) {
	var raw []byte
	switch format {
	case "yaml", "yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return RuleSet{}, fmt.Errorf("%w: yaml: %v", ErrInvalidRule, err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return RuleSet{}, fmt.Errorf("%w: yaml: %v", ErrInvalidRule, err)
		}
		raw = b
	case "jsonc":
		raw = jsonc.ToJSON(data)
	case "json", "":
		raw = data
	default:
		return RuleSet{}, fmt.Errorf("unsupported rules format %q", format)
	}

	var set RuleSet
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &set.Rules); err != nil {
			return RuleSet{}, invalid(err)
		}
	} else if err := json.Unmarshal(trimmed, &set); err != nil {
		return RuleSet{}, invalid(err)
	}
	if err := ValidateRules(set.Rules); err != nil {
		return RuleSet{}, err
	}
	return set, nil
}

func invalid(err error) error {
	if errors.Is(err, ErrInvalidRule) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidRule, err)
}
