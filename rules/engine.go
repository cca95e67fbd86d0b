// Package rules maps device metadata from the cloud listing onto capability
// implementations and their settings. Rulesets are JSON documents whose rules
// carry expr filters over the device description, matching rules contribute
// capability implementation names and evaluated setting values. Membership
// style configuration ("these ids are press mode") is expressed as a rule
// whose filter tests Device.ID.
package rules

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

//go:embed definitions
var Embedded embed.FS

// InputDevice is one entry of the cloud device listing as seen by filters.
type InputDevice struct {
	ID     string
	Type   string
	Name   string
	Hub    string
	Cloud  bool
	Remote bool
}

type Input struct {
	Device InputDevice
}

// Output maps capability implementation names to their evaluated settings.
type Output struct {
	Capabilities map[string]map[string]any
}

// CapabilityValues holds setting expressions, evaluated against the same
// input as the filters. Constants must be quoted expr literals, e.g. "'press'".
type CapabilityValues map[string]string

type Capabilities struct {
	Add    map[string]CapabilityValues
	Remove map[string]CapabilityValues
}

type Actions struct {
	Capabilities Capabilities
}

type Rule struct {
	Description string
	Filter      string
	Actions     Actions
	Children    []Rule
}

type RuleSet struct {
	Name      string
	DependsOn []string
	Rules     []Rule
}

type CompiledCapabilityValues map[string]*vm.Program

type CompiledCapabilities struct {
	Add    map[string]CompiledCapabilityValues
	Remove map[string]CompiledCapabilityValues
}

type CompiledActions struct {
	Capabilities CompiledCapabilities
}

type CompiledRule struct {
	Description string
	Filter      *vm.Program
	Actions     CompiledActions
	Children    []CompiledRule
}

type Engine struct {
	RuleSets map[string]RuleSet
	Rules    []CompiledRule
}

func New() *Engine {
	return &Engine{RuleSets: map[string]RuleSet{}}
}

func (e *Engine) LoadString(s string) error {
	return e.LoadReader(strings.NewReader(s))
}

func (e *Engine) LoadReader(r io.Reader) error {
	var rs RuleSet

	if err := json.NewDecoder(r).Decode(&rs); err != nil {
		return fmt.Errorf("ruleset decode: %w", err)
	}

	if rs.Name == "" {
		return fmt.Errorf("ruleset missing name")
	}

	e.RuleSets[rs.Name] = rs
	return nil
}

func (e *Engine) LoadFS(f fs.FS) error {
	return fs.WalkDir(f, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		file, err := f.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		if err := e.LoadReader(file); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		return nil
	})
}

func (e *Engine) CompileRules() error {
	alreadyLoaded := map[string]bool{}

	for k := range e.RuleSets {
		alreadyLoaded[k] = false
	}

	for k := range e.RuleSets {
		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, []string{}, k); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) compileRuleSet(alreadyLoaded map[string]bool, trail []string, name string) error {
	rs, ok := e.RuleSets[name]
	if !ok {
		return fmt.Errorf("ruleset missing dependency: %s->%s", strings.Join(trail, "->"), name)
	}

	trail = append(trail, rs.Name)

	for _, k := range rs.DependsOn {
		for _, t := range trail {
			if k == t {
				return fmt.Errorf("ruleset circular dependency: %s->%s", strings.Join(trail, "->"), k)
			}
		}

		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, trail, k); err != nil {
				return err
			}
		}
	}

	if cr, err := compileRules(rs.Rules); err != nil {
		return fmt.Errorf("ruleset compilation: %s: %w", strings.Join(trail, "->"), err)
	} else {
		e.Rules = append(e.Rules, cr...)
	}

	alreadyLoaded[name] = true

	return nil
}

func compileRules(rules []Rule) ([]CompiledRule, error) {
	var compiledRules []CompiledRule

	for _, rule := range rules {
		cf, err := expr.Compile(rule.Filter, expr.Env(Input{}))
		if err != nil {
			return nil, fmt.Errorf("filter compilation: %w", err)
		}

		ca, err := compileActions(rule.Actions)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Description, err)
		}

		if childCompiledRules, err := compileRules(rule.Children); err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Description, err)
		} else {
			compiledRules = append(compiledRules, CompiledRule{
				Description: rule.Description,
				Filter:      cf,
				Actions:     ca,
				Children:    childCompiledRules,
			})
		}
	}

	return compiledRules, nil
}

func compileActions(a Actions) (CompiledActions, error) {
	add, err := compileCapabilityValues(a.Capabilities.Add)
	if err != nil {
		return CompiledActions{}, err
	}

	remove, err := compileCapabilityValues(a.Capabilities.Remove)
	if err != nil {
		return CompiledActions{}, err
	}

	return CompiledActions{Capabilities: CompiledCapabilities{Add: add, Remove: remove}}, nil
}

func compileCapabilityValues(in map[string]CapabilityValues) (map[string]CompiledCapabilityValues, error) {
	out := map[string]CompiledCapabilityValues{}

	for name, values := range in {
		if values == nil {
			out[name] = nil
			continue
		}

		cv := CompiledCapabilityValues{}

		for k, v := range values {
			p, err := expr.Compile(v, expr.Env(Input{}))
			if err != nil {
				return nil, fmt.Errorf("value compilation: %s/%s: %w", name, k, err)
			}

			cv[k] = p
		}

		out[name] = cv
	}

	return out, nil
}

// Execute runs every compiled rule against the input. Rules which match
// contribute their Add actions, with setting values merged over values from
// earlier matches, so later rulesets override earlier ones key by key. Remove
// drops a capability contributed earlier. Children only run if their parent
// matched.
func (e *Engine) Execute(i Input) (Output, error) {
	o := Output{Capabilities: map[string]map[string]any{}}

	if err := executeRules(e.Rules, i, &o); err != nil {
		return Output{}, err
	}

	return o, nil
}

func executeRules(rules []CompiledRule, i Input, o *Output) error {
	for _, r := range rules {
		result, err := expr.Run(r.Filter, i)
		if err != nil {
			return fmt.Errorf("%s: filter execution: %w", r.Description, err)
		}

		match, ok := result.(bool)
		if !ok {
			return fmt.Errorf("%s: filter execution: result was not a boolean", r.Description)
		}

		if !match {
			continue
		}

		for name, values := range r.Actions.Capabilities.Add {
			merged, found := o.Capabilities[name]
			if !found {
				merged = map[string]any{}
			}

			for k, p := range values {
				v, err := expr.Run(p, i)
				if err != nil {
					return fmt.Errorf("%s: value execution: %s/%s: %w", r.Description, name, k, err)
				}

				merged[k] = v
			}

			o.Capabilities[name] = merged
		}

		for name := range r.Actions.Capabilities.Remove {
			delete(o.Capabilities, name)
		}

		if err := executeRules(r.Children, i, o); err != nil {
			return err
		}
	}

	return nil
}
