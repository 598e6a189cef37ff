// Genesis data file loader (spec §6).
//
// JSON encoding of a list of (space, key, value_bytes) entries installed on
// first open. MUST include the genesis public key entry; the chain id is
// computed as the hash of the entire genesis bundle and persisted on first
// open.
package core

import (
	"encoding/base64"
	"encoding/json"
	"os"
)

type genesisEntryJSON struct {
	System bool   `json:"system"`
	Zone   string `json:"zone"` // base64
	Space  uint32 `json:"space"`
	Key    string `json:"key"`   // base64
	Value  string `json:"value"` // base64
}

// GenesisEntry is one decoded (space, key, value) install instruction.
type GenesisEntry struct {
	Space ObjectSpace
	Key   []byte
	Value []byte
}

// GenesisBundle is the decoded genesis data file plus its raw bytes (the
// chain id is the hash of the raw bundle, spec §6).
type GenesisBundle struct {
	Entries []GenesisEntry
	Raw     []byte
}

// LoadGenesisBundle reads and decodes the genesis data file at path.
func LoadGenesisBundle(path string) (*GenesisBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrBackendIO(err)
	}
	var entriesJSON []genesisEntryJSON
	if err := json.Unmarshal(raw, &entriesJSON); err != nil {
		return nil, ErrMalformedID("genesis data file: " + err.Error())
	}

	hasGenesisKey := false
	entries := make([]GenesisEntry, 0, len(entriesJSON))
	for _, e := range entriesJSON {
		zone, err := base64.StdEncoding.DecodeString(e.Zone)
		if err != nil {
			return nil, ErrMalformedID("genesis entry zone")
		}
		key, err := base64.StdEncoding.DecodeString(e.Key)
		if err != nil {
			return nil, ErrMalformedID("genesis entry key")
		}
		value, err := base64.StdEncoding.DecodeString(e.Value)
		if err != nil {
			return nil, ErrMalformedID("genesis entry value")
		}
		if e.System && string(key) == MetaKeyGenesisPub {
			hasGenesisKey = true
		}
		entries = append(entries, GenesisEntry{
			Space: ObjectSpace{System: e.System, Zone: zone, ID: e.Space},
			Key:   key,
			Value: value,
		})
	}
	if !hasGenesisKey {
		return nil, ErrMissingField(MetaKeyGenesisPub)
	}
	return &GenesisBundle{Entries: entries, Raw: raw}, nil
}

// ChainID computes the chain id as the hash of the entire genesis bundle.
func (g *GenesisBundle) ChainID() Multihash {
	return HashMultihash(g.Raw)
}

// Install writes every entry into root (the fork DB's InitFunc).
func (g *GenesisBundle) Install(root *StateNode) error {
	for _, e := range g.Entries {
		if err := root.Put(e.Space, e.Key, e.Value); err != nil {
			return err
		}
	}
	return root.Put(SpaceMetadata, []byte(MetaKeyChainID), g.ChainID().Bytes())
}
