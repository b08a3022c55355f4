package policy

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads a policy file from path, applies KORA_-prefixed environment
// overrides via viper, decodes it into a Policy, and runs Validate before
// returning it. The YAML decode (not viper's own unmarshal) is used for
// the body so the tagged-union and duration UnmarshalYAML hooks in yaml.go
// apply; viper is used purely for the env layering.
func Load(path string) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KORA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}

	merged, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return Policy{}, fmt.Errorf("re-marshal merged policy settings: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(merged, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}

	if err := Validate(p); err != nil {
		return Policy{}, err
	}

	return p, nil
}

// LoadBytes decodes a policy document already in memory, skipping the
// viper env-overlay step. Used by tests and by callers that assemble a
// policy programmatically.
func LoadBytes(raw []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy bytes: %w", err)
	}
	if err := Validate(p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// MustLoadFile is a startup convenience; it exits
// the process on failure after logging, matching the teacher's fail-fast
// config boot pattern.
func MustLoadFile(path string) Policy {
	p, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load policy file %s: %v\n", path, err)
		os.Exit(1)
	}
	return p
}
