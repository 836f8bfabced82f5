package mountplan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML document into a Plan layered over Default().
func Parse(data []byte) (Plan, error) {
	plan := Default()

	var loaded Plan
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Plan{}, fmt.Errorf("mountplan: parse: %w", err)
	}

	plan.Merge(&loaded)
	return plan, nil
}

// Load reads and parses a mount plan from a YAML file. It does not
// validate the result or substitute ${ENV} placeholders — both are the
// caller's responsibility (spec §3).
func Load(filename string) (Plan, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Plan{}, fmt.Errorf("mountplan: read %s: %w", filename, err)
	}
	return Parse(data)
}
