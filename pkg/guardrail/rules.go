package guardrail

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Rules is the on-disk overlay format for deployment-specific patterns.
type Rules struct {
	MaxMessageLen     int      `yaml:"max_message_len"`
	InjectionPatterns []string `yaml:"injection_patterns"`
	LeakPatterns      []string `yaml:"leak_patterns"`
}

// LoadRules reads a YAML rules file into a Config. The built-in patterns are
// always kept; file patterns are added on top.
func LoadRules(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "guardrail: read rules file")
	}
	var rules Rules
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return Config{}, errors.Wrap(err, "guardrail: parse rules file")
	}
	return Config{
		MaxMessageLen:     rules.MaxMessageLen,
		ExtraPatterns:     rules.InjectionPatterns,
		ExtraLeakPatterns: rules.LeakPatterns,
	}, nil
}
