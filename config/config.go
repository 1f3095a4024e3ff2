// Package config loads the bot configuration from YAML: action templates,
// response templates, orchestration thresholds and the tuning knobs of the
// dispatcher, fallback router, escalation policy and session store.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/template"
)

// Duration wraps time.Duration with YAML string parsing ("200ms", "30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Param mirrors template.ParamSpec in YAML form.
type Param struct {
	Name            string   `yaml:"name"`
	Kind            string   `yaml:"kind"`
	Required        bool     `yaml:"required"`
	ContextFillable bool     `yaml:"context_fillable"`
	Prompt          string   `yaml:"prompt"`
	Enum            []string `yaml:"enum"`
}

// Action declares one action template.
type Action struct {
	Name     string  `yaml:"name"`
	Mutating bool    `yaml:"mutating"`
	Params   []Param `yaml:"params"`
}

// Session configures the session store.
type Session struct {
	// TTL closes sessions idle longer than this. 0 disables expiry.
	TTL Duration `yaml:"ttl"`
	// Store selects the backend: "memory" (default) or "sqlite".
	Store string `yaml:"store"`
	// SQLitePath is the database file used by the sqlite store.
	SQLitePath string `yaml:"sqlite_path"`
}

// Dispatch configures the action dispatcher.
type Dispatch struct {
	MaxRetries  int      `yaml:"max_retries"`
	BaseBackoff Duration `yaml:"base_backoff"`
	Timeout     Duration `yaml:"timeout"`
}

// Fallback configures the fallback router.
type Fallback struct {
	Budget       int      `yaml:"budget"`
	Timeout      Duration `yaml:"timeout"`
	MenuReply    string   `yaml:"menu_reply"`
	ApologyReply string   `yaml:"apology_reply"`
}

// Escalation configures the escalation policy.
type Escalation struct {
	FallbackThreshold int      `yaml:"fallback_threshold"`
	TicketAction      string   `yaml:"ticket_action"`
	HumanIntents      []string `yaml:"human_intents"`
	NegativeKeywords  []string `yaml:"negative_keywords"`
}

// Server configures the HTTP ingress.
type Server struct {
	Addr string `yaml:"addr"`
}

// Config is the full bot configuration document.
type Config struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	InterruptConfidence float64 `yaml:"interrupt_confidence"`
	InformIntent        string  `yaml:"inform_intent"`
	CancelIntent        string  `yaml:"cancel_intent"`
	ContextParam        string  `yaml:"context_param"`

	Session    Session    `yaml:"session"`
	Dispatch   Dispatch   `yaml:"dispatch"`
	Fallback   Fallback   `yaml:"fallback"`
	Escalation Escalation `yaml:"escalation"`
	Server     Server     `yaml:"server"`

	Actions []Action `yaml:"actions"`
	// Responses maps action name to outcome kind ("success", "empty",
	// "unrecoverable") to a reply template rendered against the payload.
	Responses map[string]map[string]string `yaml:"responses"`
}

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Actions = nil
	cfg.Responses = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the document beyond YAML well-formedness. Template-level
// rules (duplicate params, empty enums) are enforced by BuildRegistry.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return &core.ConfigurationError{Component: "config", Message: "confidence_threshold must be between 0 and 1"}
	}
	if c.InterruptConfidence < 0 || c.InterruptConfidence > 1 {
		return &core.ConfigurationError{Component: "config", Message: "interrupt_confidence must be between 0 and 1"}
	}
	switch c.Session.Store {
	case "", "memory", "sqlite":
	default:
		return &core.ConfigurationError{Component: "config", Message: fmt.Sprintf("unknown session store %q", c.Session.Store)}
	}
	if c.Session.Store == "sqlite" && c.Session.SQLitePath == "" {
		return &core.ConfigurationError{Component: "config", Message: "sqlite session store requires sqlite_path"}
	}
	for _, a := range c.Actions {
		for _, p := range a.Params {
			switch template.ParamKind(p.Kind) {
			case template.ParamString, template.ParamEnum, template.ParamNumber:
			case "":
				// Defaults to string in BuildRegistry.
			default:
				return &core.ConfigurationError{
					Component: "config",
					Message:   fmt.Sprintf("action %q parameter %q has unknown kind %q", a.Name, p.Name, p.Kind),
				}
			}
		}
	}
	return nil
}

// BuildRegistry converts the declared actions into a template registry.
func (c *Config) BuildRegistry() (*template.Registry, error) {
	reg := template.NewRegistry()
	for _, a := range c.Actions {
		tmpl := &template.Template{Name: a.Name, Mutating: a.Mutating}
		for _, p := range a.Params {
			kind := template.ParamKind(p.Kind)
			if kind == "" {
				kind = template.ParamString
			}
			tmpl.Params = append(tmpl.Params, template.ParamSpec{
				Name:            p.Name,
				Kind:            kind,
				Required:        p.Required,
				ContextFillable: p.ContextFillable,
				Prompt:          p.Prompt,
				Enum:            p.Enum,
			})
		}
		if err := reg.Register(tmpl); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Default returns the built-in shop bot configuration.
func Default() *Config {
	return &Config{
		ConfidenceThreshold: 0.5,
		InterruptConfidence: 0.75,
		InformIntent:        "inform",
		CancelIntent:        "cancel",
		ContextParam:        "product_id",
		Session: Session{
			TTL:   Duration(30 * time.Minute),
			Store: "memory",
		},
		Dispatch: Dispatch{
			MaxRetries:  2,
			BaseBackoff: Duration(200 * time.Millisecond),
			Timeout:     Duration(5 * time.Second),
		},
		Fallback: Fallback{
			Budget:  5,
			Timeout: Duration(10 * time.Second),
		},
		Escalation: Escalation{
			FallbackThreshold: 2,
			TicketAction:      "create_support_ticket",
			HumanIntents:      []string{"human_handoff", "talk_to_human"},
			NegativeKeywords:  []string{"terrible", "awful", "useless", "ridiculous", "angry", "scam"},
		},
		Server: Server{Addr: ":8080"},
		Actions: []Action{
			{
				Name: "search_products",
				Params: []Param{
					{Name: "query", Kind: "string", Required: true, Prompt: "What are you looking for?"},
				},
			},
			{
				Name:     "add_to_cart",
				Mutating: true,
				Params: []Param{
					{Name: "product_id", Kind: "string", Required: true, ContextFillable: true, Prompt: "Which product would you like to add?"},
					{Name: "size", Kind: "enum", Required: true, Enum: []string{"S", "M", "L"}, Prompt: "What size would you like?"},
					{Name: "color", Kind: "enum", Required: true, Enum: []string{"black", "white", "blue"}, Prompt: "And which color?"},
					{Name: "quantity", Kind: "number", Prompt: "How many?"},
				},
			},
			{
				Name: "order_status",
				Params: []Param{
					{Name: "order_id", Kind: "string", Required: true, Prompt: "Which order number?"},
				},
			},
			{
				Name:     "cancel_order",
				Mutating: true,
				Params: []Param{
					{Name: "order_id", Kind: "string", Required: true, Prompt: "Which order should I cancel?"},
				},
			},
		},
		Responses: map[string]map[string]string{
			"search_products": {
				"success": "Here is what I found for {{.params.query}}.",
				"empty":   "I couldn't find anything matching {{.params.query}}.",
			},
			"add_to_cart": {
				"success": "Added to your cart.",
			},
			"order_status": {
				"success": "Here is the latest on order {{.params.order_id}}.",
				"empty":   "I couldn't find an order {{.params.order_id}}.",
			},
			"cancel_order": {
				"success": "Order {{.params.order_id}} is cancelled.",
			},
		},
	}
}
