// Package slot implements the slot-filling engine: deciding whether an
// intended action has all of its required parameters and, if not, which one
// to ask for next.
package slot

import (
	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/template"
)

// Resolution is the engine's verdict on one action template against the
// parameters supplied so far.
type Resolution struct {
	// Complete reports whether every required parameter is satisfied.
	Complete bool
	// Parameters holds the satisfied parameter set (supplied values merged
	// with applied context defaults).
	Parameters map[string]core.Value
	// Missing lists the still-missing required parameters in declaration
	// order; the first entry is the one to prompt for.
	Missing []string
}

// Engine resolves action templates against supplied parameters and context
// defaults. It is stateless and safe for concurrent use; the caller owns
// parameter accumulation across turns, which makes repeated resolution
// converge monotonically toward Complete.
type Engine struct{}

// NewEngine constructs a slot-filling engine.
func NewEngine() *Engine { return &Engine{} }

// Resolve checks the template's parameters against supplied values. A
// required parameter is satisfied if present in supplied, else if the
// template marks it context-fillable and a context default exists. Defaults
// are never invented for parameters not marked context-fillable.
func (e *Engine) Resolve(tmpl *template.Template, supplied map[string]core.Value, defaults map[string]core.Value) Resolution {
	params := make(map[string]core.Value, len(supplied))
	for k, v := range supplied {
		params[k] = v
	}

	var missing []string
	for _, spec := range tmpl.Params {
		if _, ok := params[spec.Name]; ok {
			continue
		}
		if spec.ContextFillable {
			if v, ok := defaults[spec.Name]; ok {
				params[spec.Name] = v
				continue
			}
		}
		if spec.Required {
			missing = append(missing, spec.Name)
		}
	}

	return Resolution{Complete: len(missing) == 0, Parameters: params, Missing: missing}
}
