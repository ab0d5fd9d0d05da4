package endpoints

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML file a service ships to declare its endpoints:
//
//	service: billing
//	endpoints:
//	  - method: GET
//	    path: /invoices/{id}
//	    permission: invoice:read
type Manifest struct {
	Service   string               `yaml:"service"`
	Endpoints []EndpointDescriptor `yaml:"endpoints"`
}

// LoadManifest decodes a manifest. Unknown keys are rejected.
func LoadManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Service == "" {
		return nil, fmt.Errorf("manifest is missing service")
	}
	return &m, nil
}

// LoadManifestFile reads a manifest from disk
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}
