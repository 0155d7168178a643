package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// FileLookup reports whether a file with the given name was supplied.
type FileLookup interface {
	Has(name string) bool
}

// Names is a FileLookup over a fixed list of names.
type Names map[string]struct{}

// NewNames builds a Names set.
func NewNames(names ...string) Names {
	set := make(Names, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has implements FileLookup.
func (n Names) Has(name string) bool {
	_, ok := n[name]
	return ok
}

// Validate parses manifestJSON, applies the manifest schema and checks every
// referenced file against files. All problems are returned together as
// ValidationErrors.
func Validate(manifestJSON []byte, files FileLookup) (*Manifest, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(manifestJSON))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, ValidationErrors{fmt.Sprintf("Failed to load %s: %v", FileName, err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ValidationErrors{fmt.Sprintf("Failed to load %s: trailing data after manifest", FileName)}
	}

	found, err := schemaErrors(doc)
	if err != nil {
		return nil, ValidationErrors{fmt.Sprintf("Failed to load %s: %v", FileName, err)}
	}
	errs := ValidationErrors(found)
	errs = append(errs, crossCheckFiles(doc, files)...)
	if len(errs) > 0 {
		return nil, errs
	}

	var m Manifest
	if err := json.Unmarshal(manifestJSON, &m); err != nil {
		return nil, ValidationErrors{fmt.Sprintf("Failed to load %s: %v", FileName, err)}
	}
	return &m, nil
}

// crossCheckFiles reports missing files first, then duplicated ones. It
// tolerates documents that failed schema validation so that both kinds of
// problems surface in a single pass.
func crossCheckFiles(doc any, files FileLookup) []string {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	nfts, ok := root["nfts"].([]any)
	if !ok {
		return nil
	}
	policy := AllowNoDuplicates
	if raw, ok := root["allowDuplicates"].(string); ok {
		policy = DuplicatePolicy(raw)
	}

	var missing, dupes []string
	seenPublic := make(map[string]struct{})
	seenPrivate := make(map[string]struct{})
	check := func(name string, seen map[string]struct{}, allowDupes bool) {
		if !files.Has(name) {
			missing = append(missing, name)
		}
		if _, dup := seen[name]; dup && !allowDupes {
			dupes = append(dupes, name)
		}
		seen[name] = struct{}{}
	}
	for _, item := range nfts {
		descriptor, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := descriptor["publicImage"].(string); ok {
			check(name, seenPublic, policy.allowsPublic())
		}
		if name, ok := descriptor["privateData"].(string); ok {
			check(name, seenPrivate, policy.allowsPrivate())
		}
	}

	out := make([]string, 0, len(missing)+len(dupes))
	for _, name := range missing {
		out = append(out, fmt.Sprintf("Missing: %s.", name))
	}
	for _, name := range dupes {
		out = append(out, fmt.Sprintf("Duplicated: %s.", name))
	}
	return out
}
