package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunFile is an optional YAML file describing one pipeline run. Unset
// fields fall back to the process configuration.
type RunFile struct {
	Simulations    int    `yaml:"simulations"`
	MaxTurns       int    `yaml:"max_turns"`
	AgentModel     string `yaml:"agent_model"`
	DebtorModel    string `yaml:"debtor_model"`
	OptimizerModel string `yaml:"optimizer_model"`
	ScriptPath     string `yaml:"script_path"`
}

// LoadRunFile reads and validates a pipeline run file.
func LoadRunFile(path string) (RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunFile{}, fmt.Errorf("read run file %q: %w", path, err)
	}

	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RunFile{}, fmt.Errorf("parse run file %q: %w", path, err)
	}

	if rf.Simulations < 0 {
		return RunFile{}, fmt.Errorf("run file %q: simulations must be >= 0", path)
	}
	if rf.MaxTurns < 0 {
		return RunFile{}, fmt.Errorf("run file %q: max_turns must be >= 0", path)
	}
	return rf, nil
}
