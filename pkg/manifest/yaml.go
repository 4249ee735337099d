package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// decodeYAML returns the typed document and its generic form.
func decodeYAML(data []byte) (*Document, any, error) {
	var raw any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	var doc Document

	err = yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return &doc, raw, nil
}
