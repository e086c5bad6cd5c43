package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"boxtrack/internal/domain"
)

type targetFile struct {
	Targets []targetEntry `yaml:"targets"`
}

type targetEntry struct {
	Name          string `yaml:"name"`
	SpreadsheetID string `yaml:"spreadsheet_id"`
	WorksheetName string `yaml:"worksheet_name"`
	BoxColumn     string `yaml:"box_column"`
	Credentials   string `yaml:"credentials"`
	// kept as a node so the field order of the file survives
	Fields yaml.Node `yaml:"fields"`
}

// LoadTargets reads sync target definitions from a YAML file:
//
//	targets:
//	  - name: warehouse
//	    spreadsheet_id: 1AbC...
//	    worksheet_name: Stock
//	    box_column: Box
//	    credentials: /etc/boxtrack/service-account.json
//	    fields:
//	      Name: Item
//	      Qty: Count
//
// The order of the fields mapping decides which field is the name field
// when several qualify.
func LoadTargets(path string) ([]*domain.SyncTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var file targetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Targets))
	targets := make([]*domain.SyncTarget, 0, len(file.Targets))
	for i, entry := range file.Targets {
		if entry.Name == "" {
			return nil, fmt.Errorf("target #%d in %s has no name", i+1, path)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate target %q in %s", entry.Name, path)
		}
		seen[entry.Name] = true

		target := &domain.SyncTarget{
			Name:            entry.Name,
			SpreadsheetID:   entry.SpreadsheetID,
			WorksheetName:   entry.WorksheetName,
			BoxColumn:       entry.BoxColumn,
			CredentialsPath: entry.Credentials,
			Fields:          make(map[string]string),
		}
		if err := decodeFields(&entry.Fields, target); err != nil {
			return nil, fmt.Errorf("target %q: %w", entry.Name, err)
		}
		targets = append(targets, target)
	}

	return targets, nil
}

func decodeFields(node *yaml.Node, target *domain.SyncTarget) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("fields must be a mapping (line %d)", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
			return fmt.Errorf("field mapping must be scalar to scalar (line %d)", key.Line)
		}
		if _, dup := target.Fields[key.Value]; dup {
			return fmt.Errorf("duplicate field %q (line %d)", key.Value, key.Line)
		}
		target.Fields[key.Value] = value.Value
		target.FieldOrder = append(target.FieldOrder, key.Value)
	}
	return nil
}
