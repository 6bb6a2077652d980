package pipeline

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ManifestVersion is the layout version of Manifest.
const ManifestVersion = 1

// Manifest records what a run did to every file. It is written as
// canonical CBOR so identical runs produce identical bytes.
type Manifest struct {
	Version  int     `cbor:"1,keyasint"`
	Pass     string  `cbor:"2,keyasint"`
	Contract int     `cbor:"3,keyasint"`
	Entries  []Entry `cbor:"4,keyasint"`
}

// Entry is the outcome for one file. Hashes are xxh3 of the file bytes.
type Entry struct {
	Path       string `cbor:"1,keyasint"`
	Action     string `cbor:"2,keyasint"`
	InputHash  uint64 `cbor:"3,keyasint"`
	OutputHash uint64 `cbor:"4,keyasint"`
	Sites      int    `cbor:"5,keyasint,omitempty"`
}

var manifestEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("pipeline: failed to create CBOR enc mode: %v", err))
	}
	manifestEncMode = em
}

// WriteManifest encodes m to path.
func WriteManifest(path string, m *Manifest) error {
	data, err := manifestEncMode.Marshal(m)
	if err != nil {
		return fmt.Errorf("pipeline: marshal manifest: %w", err)
	}
	return writeFile(path, data)
}

// ReadManifest decodes the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to read manifest: %w", err)
	}
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pipeline: unmarshal manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("pipeline: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
