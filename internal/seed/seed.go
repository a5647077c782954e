// Package seed loads a PIPELINES_SEED_FILE at startup so a fresh
// deployment can come up with its pipelines already defined instead of
// requiring a first round of API calls. The file is plain YAML — the
// teacher's deleted plugin-config loader read rat.yaml the same way, via
// gopkg.in/yaml.v3, so seed files keep that format even though the
// document shape is new.
package seed

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rat-data/rat/platform/internal/domain"
)

// Pipeline is one seed-file entry. It mirrors createPipelineRequest's JSON
// shape so the same domain types validate it.
type Pipeline struct {
	Name         string                `json:"name" yaml:"name"`
	Description  string                `json:"description" yaml:"description"`
	RunFrequency domain.RunFrequency   `json:"run_frequency" yaml:"run_frequency"`
	Ingestor     domain.IngestorConfig `json:"ingestor_config" yaml:"ingestor_config"`
}

// LoadFile parses a seed file of the form:
//
//	- name: example
//	  run_frequency: DAILY
//	  ingestor_config:
//	    strategy: simple
//	    sources:
//	      - type: API
//	        api: {url: "https://example.com/data"}
//
// YAML is decoded into generic maps first and round-tripped through JSON so
// the discriminated SourceConfig union (tagged by "type") unmarshals with
// the exact same rules the HTTP API uses.
func LoadFile(path string) ([]Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}

	var raw []map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}

	pipelines := make([]Pipeline, 0, len(raw))
	for i, entry := range raw {
		jsonBytes, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("seed: entry %d: %w", i, err)
		}
		var p Pipeline
		if err := json.Unmarshal(jsonBytes, &p); err != nil {
			return nil, fmt.Errorf("seed: entry %d: %w", i, err)
		}
		if err := p.Ingestor.Validate(); err != nil {
			return nil, fmt.Errorf("seed: entry %d (%s): %w", i, p.Name, err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
