package policy

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML parses duration values expressed as Go-style strings or
// bare numbers interpreted as seconds, matching the pack's Duration
// convention.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		d.Duration = parsed
		return nil
	}
	if parsed, err := time.ParseDuration(raw + "s"); err == nil {
		d.Duration = parsed
		return nil
	}
	return fmt.Errorf("invalid duration value %q", raw)
}

// MarshalYAML renders the duration as a human string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML accepts either the literal scalar "All" or a sequence of
// mint addresses, per spec.md §6 `allowed_spl_paid_tokens`.
func (s *SplPaidTokens) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if strings.EqualFold(value.Value, "All") {
			s.All = true
			s.Tokens = nil
			return nil
		}
		return fmt.Errorf("unrecognized allowed_spl_paid_tokens scalar %q, expected \"All\"", value.Value)
	case yaml.SequenceNode:
		var tokens []string
		if err := value.Decode(&tokens); err != nil {
			return err
		}
		s.All = false
		s.Tokens = tokens
		return nil
	default:
		return fmt.Errorf("unsupported allowed_spl_paid_tokens node kind: %v", value.Kind)
	}
}

// MarshalYAML renders SplPaidTokens back to its wire shape.
func (s SplPaidTokens) MarshalYAML() (interface{}, error) {
	if s.All {
		return "All", nil
	}
	return s.Tokens, nil
}

// priceModelWire mirrors the tagged union the policy file expresses as a
// nested map: `price: Free` or `price: {Fixed: {amount, token, strict}}`
// or `price: {Margin: {margin}}`.
type priceModelWire struct {
	Free   *struct{} `yaml:"Free,omitempty"`
	Fixed  *struct {
		Amount uint64 `yaml:"amount"`
		Token  string `yaml:"token"`
		Strict bool   `yaml:"strict"`
	} `yaml:"Fixed,omitempty"`
	Margin *struct {
		Margin float64 `yaml:"margin"`
	} `yaml:"Margin,omitempty"`
}

// UnmarshalYAML decodes the tagged pricing model, also accepting the bare
// scalar "Free" for the zero-config case.
func (p *PriceModel) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && strings.EqualFold(value.Value, "Free") {
		p.Kind = PriceModelFree
		return nil
	}

	var wire priceModelWire
	if err := value.Decode(&wire); err != nil {
		return fmt.Errorf("decode price model: %w", err)
	}

	switch {
	case wire.Fixed != nil:
		p.Kind = PriceModelFixed
		p.FixedAmount = wire.Fixed.Amount
		p.FixedToken = wire.Fixed.Token
		p.Strict = wire.Fixed.Strict
	case wire.Margin != nil:
		p.Kind = PriceModelMargin
		p.Margin = wire.Margin.Margin
	default:
		p.Kind = PriceModelFree
	}
	return nil
}

// MarshalYAML renders the pricing model back to its tagged shape.
func (p PriceModel) MarshalYAML() (interface{}, error) {
	switch p.Kind {
	case PriceModelFixed:
		return map[string]any{
			"Fixed": map[string]any{
				"amount": p.FixedAmount,
				"token":  p.FixedToken,
				"strict": p.Strict,
			},
		}, nil
	case PriceModelMargin:
		return map[string]any{
			"Margin": map[string]any{"margin": p.Margin},
		}, nil
	default:
		return "Free", nil
	}
}
