// Package templates provides the embedded starter files written by updraft init.
package templates

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed files
var templatesFS embed.FS

// Kind says what a template produces.
type Kind string

const (
	KindConfig     Kind = "config"
	KindDescriptor Kind = "descriptor"
)

// Template represents a starter file with metadata.
type Template struct {
	Name        string
	Description string
	Kind        Kind
	// FileName is the embedded file name; its extension gives the format.
	FileName string
	Content  []byte
}

// Ext returns the template's file extension, e.g. ".toml".
func (t *Template) Ext() string {
	return path.Ext(t.FileName)
}

// Available templates with their descriptions.
var templateDescriptions = map[string]string{
	"minimal":    "App root and share directory only (TOML)",
	"full":       "Every option with its default (YAML)",
	"descriptor": "Sample update descriptor (JSON)",
}

var templateKinds = map[string]Kind{
	"descriptor": KindDescriptor,
}

// List returns all available template names sorted alphabetically.
func List() []string {
	entries, err := templatesFS.ReadDir("files")
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), path.Ext(entry.Name())))
	}

	sort.Strings(names)
	return names
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	fileName := ""
	entries, _ := templatesFS.ReadDir("files")
	for _, entry := range entries {
		if !entry.IsDir() && strings.TrimSuffix(entry.Name(), path.Ext(entry.Name())) == name {
			fileName = entry.Name()
			break
		}
	}
	if fileName == "" {
		return nil, fmt.Errorf("template '%s' not found (available: %s)", name, strings.Join(List(), ", "))
	}

	content, err := templatesFS.ReadFile(path.Join("files", fileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read template '%s': %w", name, err)
	}

	kind, ok := templateKinds[name]
	if !ok {
		kind = KindConfig
	}

	return &Template{
		Name:        name,
		Description: GetDescription(name),
		Kind:        kind,
		FileName:    fileName,
		Content:     content,
	}, nil
}

// GetDescription returns the description for a template.
func GetDescription(name string) string {
	if desc, ok := templateDescriptions[name]; ok {
		return desc
	}
	return "Custom template"
}
