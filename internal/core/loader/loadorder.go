package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one record of a load-order file.
type Entry struct {
	Priority         uint16 `json:"Priority" yaml:"Priority"`
	AssemblyFileName string `json:"AssemblyFileName" yaml:"AssemblyFileName"`
}

// ParseLoadOrder decodes a JSON array of entries. YAML documents are accepted too.
func ParseLoadOrder(data []byte) ([]Entry, error) {
	var entries []Entry
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("parse load order: %w", err)
		}
	} else if err := yaml.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("parse load order: %w", err)
	}
	for i, e := range entries {
		if e.AssemblyFileName == "" {
			return nil, fmt.Errorf("parse load order: entry %d has no AssemblyFileName", i)
		}
	}
	return entries, nil
}

func ReadLoadOrder(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read load order: %w", err)
	}
	return ParseLoadOrder(data)
}

// SortModules orders modules by entry priority, lowest first. Modules without an
// entry keep discovery order after all listed ones. Names match with or without
// a file extension.
func SortModules(modules []Module, entries []Entry) []Module {
	priorities := make(map[string]uint16, 2*len(entries))
	set := func(key string, p uint16) {
		if cur, ok := priorities[key]; !ok || p < cur {
			priorities[key] = p
		}
	}
	for _, e := range entries {
		name := normalizeModuleName(e.AssemblyFileName)
		set(name, e.Priority)
		set(trimExt(name), e.Priority)
	}
	lookup := func(m Module) (uint16, bool) {
		name := normalizeModuleName(m.Name())
		if p, ok := priorities[name]; ok {
			return p, true
		}
		p, ok := priorities[trimExt(name)]
		return p, ok
	}

	out := slices.Clone(modules)
	slices.SortStableFunc(out, func(a, b Module) int {
		pa, aok := lookup(a)
		pb, bok := lookup(b)
		switch {
		case aok && bok:
			return int(pa) - int(pb)
		case aok:
			return -1
		case bok:
			return 1
		default:
			return 0
		}
	})
	return out
}

func normalizeModuleName(name string) string {
	return strings.ToLower(filepath.Base(name))
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
