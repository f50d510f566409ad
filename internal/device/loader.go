package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"plc_agent/internal/types"
)

// LoadSensors reads a sensor list from a JSON file, or YAML when the extension says so.
func LoadSensors(filePath string) ([]types.SensorDescriptor, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read sensor file: %w", err)
	}

	var sensors []types.SensorDescriptor
	if isYAML(filePath) {
		err = yaml.Unmarshal(data, &sensors)
	} else {
		err = json.Unmarshal(data, &sensors)
	}
	if err != nil {
		return nil, fmt.Errorf("decode sensor file %s: %w", filePath, err)
	}

	for i, s := range sensors {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sensor %d in %s: %w", i, filePath, err)
		}
	}
	return sensors, nil
}

// SaveSensors writes the sensor list to filePath, replacing it atomically.
func SaveSensors(filePath string, sensors []types.SensorDescriptor) error {
	if sensors == nil {
		sensors = []types.SensorDescriptor{}
	}

	var data []byte
	var err error
	if isYAML(filePath) {
		data, err = yaml.Marshal(sensors)
	} else {
		data, err = json.MarshalIndent(sensors, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode sensors: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create sensor file directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".sensors-*")
	if err != nil {
		return fmt.Errorf("create temp sensor file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sensor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sensor file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("replace sensor file: %w", err)
	}
	return nil
}

func isYAML(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return ext == ".yaml" || ext == ".yml"
}
