package rules

import (
	"testing"

	"github.com/expr-lang/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_compileRule(t *testing.T) {
	t.Run("returns an error if the filter compilation fails", func(t *testing.T) {
		r := Rule{
			Filter: "INVALID UNPARSABLE FILTER",
		}

		crs, err := compileRules([]Rule{r})
		assert.Error(t, err)
		assert.Nil(t, crs)
		assert.Contains(t, err.Error(), "filter compilation:")
	})

	t.Run("returns an error if a setting value fails to compile", func(t *testing.T) {
		r := Rule{
			Description: "bad value",
			Filter:      "1 == 1",
			Actions: Actions{
				Capabilities: Capabilities{
					Add: map[string]CapabilityValues{
						"CloudBinaryActuator": {
							"Mode": "NOT A VALID !!",
						},
					},
				},
			},
		}

		crs, err := compileRules([]Rule{r})
		assert.Error(t, err)
		assert.Nil(t, crs)
		assert.Contains(t, err.Error(), "value compilation:")
	})

	t.Run("returns a compiled rule", func(t *testing.T) {
		r := Rule{
			Description: "Binary actuator",
			Filter:      "Device.Type == 'Bot'",
			Actions: Actions{
				Capabilities: Capabilities{
					Add: map[string]CapabilityValues{
						"CloudBinaryActuator": {
							"Mode": "'switch'",
						},
					},
				},
			},
		}

		cer, err := expr.Compile("'switch'", expr.Env(Input{}))
		require.NoError(t, err)

		ca := CompiledActions{
			Capabilities: CompiledCapabilities{
				Add: map[string]CompiledCapabilityValues{
					"CloudBinaryActuator": {
						"Mode": cer,
					},
				},
				Remove: map[string]CompiledCapabilityValues{},
			},
		}

		cr, err := compileRules([]Rule{r})
		require.NoError(t, err)

		assert.Equal(t, r.Description, cr[0].Description)
		assert.NotNil(t, cr[0].Filter)
		assert.Equal(t, ca, cr[0].Actions)
		assert.Nil(t, cr[0].Children)
	})
}

func TestEngine_CompileRules(t *testing.T) {
	t.Run("raises an error if a depended on ruleset is not loaded", func(t *testing.T) {
		e := Engine{
			RuleSets: map[string]RuleSet{
				"one": {
					Name:      "one",
					DependsOn: []string{"two"},
				},
			},
		}

		err := e.CompileRules()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ruleset missing dependency: one->two")
	})

	t.Run("raises an error if there is a circular dependency", func(t *testing.T) {
		e := Engine{
			RuleSets: map[string]RuleSet{
				"one": {
					Name:      "one",
					DependsOn: []string{"two"},
				},
				"two": {
					Name:      "two",
					DependsOn: []string{"one"},
				},
			},
		}

		err := e.CompileRules()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ruleset circular dependency: one->two->one")
	})

	t.Run("compiles depended on rulesets ahead of their dependents", func(t *testing.T) {
		e := Engine{
			RuleSets: map[string]RuleSet{
				"one": {
					Name:      "one",
					DependsOn: []string{"two"},
					Rules: []Rule{
						{
							Description: "dependent",
							Filter:      "1 == 1",
						},
					},
				},
				"two": {
					Name: "two",
					Rules: []Rule{
						{
							Description: "dependency",
							Filter:      "1 == 1",
						},
					},
				},
			},
		}

		require.NoError(t, e.CompileRules())
		require.Len(t, e.Rules, 2)

		assert.Equal(t, "dependency", e.Rules[0].Description)
		assert.Equal(t, "dependent", e.Rules[1].Description)
	})
}

func TestEngine_Execute(t *testing.T) {
	t.Run("executes all rules that match, including any descendants", func(t *testing.T) {
		e := New()

		require.NoError(t, e.LoadString(`{
			"Name": "test",
			"Rules": [
				{
					"Description": "does not match",
					"Filter": "Device.Type == 'Humidifier'",
					"Actions": {"Capabilities": {"Add": {"one": {}}}}
				},
				{
					"Description": "matches with children",
					"Filter": "Device.Type == 'Bot'",
					"Actions": {"Capabilities": {"Add": {"two": {"Serial": "Device.ID"}}}},
					"Children": [
						{
							"Description": "child",
							"Filter": "Device.ID == 'D1'",
							"Actions": {"Capabilities": {"Add": {"three": {}}}}
						}
					]
				},
				{
					"Description": "removes a previous contribution",
					"Filter": "Device.Hub == 'hub'",
					"Actions": {"Capabilities": {"Remove": {"three": {}}}}
				}
			]
		}`))

		require.NoError(t, e.CompileRules())

		o, err := e.Execute(Input{Device: InputDevice{ID: "D1", Type: "Bot", Hub: "hub"}})
		require.NoError(t, err)

		assert.NotContains(t, o.Capabilities, "one")
		assert.Contains(t, o.Capabilities, "two")
		assert.NotContains(t, o.Capabilities, "three")
		assert.Equal(t, "D1", o.Capabilities["two"]["Serial"])
	})

	t.Run("later rulesets override earlier setting values key by key", func(t *testing.T) {
		e := New()

		require.NoError(t, e.LoadString(`{
			"Name": "defaults",
			"Rules": [
				{
					"Description": "all bots switch mode",
					"Filter": "Device.Type == 'Bot'",
					"Actions": {"Capabilities": {"Add": {"CloudBinaryActuator": {"Mode": "'switch'", "PollIntervalMs": "60000"}}}}
				}
			]
		}`))

		require.NoError(t, e.LoadString(`{
			"Name": "site",
			"DependsOn": ["defaults"],
			"Rules": [
				{
					"Description": "this bot presses",
					"Filter": "Device.ID in ['D2']",
					"Actions": {"Capabilities": {"Add": {"CloudBinaryActuator": {"Mode": "'press'"}}}}
				}
			]
		}`))

		require.NoError(t, e.CompileRules())

		o, err := e.Execute(Input{Device: InputDevice{ID: "D2", Type: "Bot"}})
		require.NoError(t, err)

		assert.Equal(t, "press", o.Capabilities["CloudBinaryActuator"]["Mode"])
		assert.Equal(t, 60000, o.Capabilities["CloudBinaryActuator"]["PollIntervalMs"])

		o, err = e.Execute(Input{Device: InputDevice{ID: "D1", Type: "Bot"}})
		require.NoError(t, err)

		assert.Equal(t, "switch", o.Capabilities["CloudBinaryActuator"]["Mode"])
	})
}

func TestEngine_LoadFS(t *testing.T) {
	t.Run("loads all json files in a FileSystem, also Embedded rules are legal by association", func(t *testing.T) {
		e := New()

		err := e.LoadFS(Embedded)
		assert.NoError(t, err)

		assert.Contains(t, e.RuleSets, "cloud")
	})

	t.Run("embedded rules compile and classify the device families", func(t *testing.T) {
		e := New()

		require.NoError(t, e.LoadFS(Embedded))
		require.NoError(t, e.CompileRules())

		o, err := e.Execute(Input{Device: InputDevice{ID: "one", Type: "Bot", Name: "Desk Bot", Cloud: true}})
		require.NoError(t, err)
		assert.Contains(t, o.Capabilities, "CloudBinaryActuator")
		assert.Contains(t, o.Capabilities, "GenericProductInformation")
		assert.Equal(t, "switch", o.Capabilities["CloudBinaryActuator"]["Mode"])

		o, err = e.Execute(Input{Device: InputDevice{ID: "two", Type: "Humidifier", Cloud: true}})
		require.NoError(t, err)
		assert.Contains(t, o.Capabilities, "CloudHumidifier")

		o, err = e.Execute(Input{Device: InputDevice{ID: "three", Type: "Meter", Cloud: true}})
		require.NoError(t, err)
		assert.Contains(t, o.Capabilities, "CloudMeter")

		o, err = e.Execute(Input{Device: InputDevice{ID: "four", Type: "TV", Remote: true, Cloud: true}})
		require.NoError(t, err)
		assert.Contains(t, o.Capabilities, "CloudRemotePanel")
		assert.NotContains(t, o.Capabilities, "CloudBinaryActuator")
	})
}
