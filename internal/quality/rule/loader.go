package rule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses YAML rule definitions and stores them in a new repository.
// Every rule is validated (and its formula compiled and probed) before the
// repository is returned, so a malformed definition fails the whole load.
//
// Definition format:
//
//   - name: "Humedad compra"
//     sequence: 10
//     active: true
//     operation_type: COMPRA
//     parameter: humedad
//     threshold: 13.0
//     mode: double_discount
func Load(content []byte) (*Repository, error) {
	var rules []*Rule
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return nil, fmt.Errorf("error parsing rules: %w", err)
	}

	repo, err := NewRepository()
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := repo.Add(r); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// LoadFromFile reads a rule definition file and loads it.
func LoadFromFile(file string) (*Repository, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Load(content)
}
