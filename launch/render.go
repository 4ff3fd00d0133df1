package launch

import (
	"embed"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"xml": xmlEscape,
}

func xmlEscape(s string) string {
	var b strings.Builder
	// Writes to a strings.Builder cannot fail
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func parseEmbedded(name string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Option("missingkey=error").ParseFS(templateFS, "templates/"+name))
}

var resourcesTemplate = parseEmbedded("resources.xml.tmpl")

// DefaultClusterTemplate is the built-in cluster membership template.
var DefaultClusterTemplate = parseEmbedded("cluster.xml.tmpl")

// LoadClusterTemplate parses a cluster membership template from disk. The
// template sees .Port and .Members and may use the xml escaping func.
func LoadClusterTemplate(path string) (*template.Template, error) {
	t, err := template.New(filepath.Base(path)).Funcs(templateFuncs).Option("missingkey=error").ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse cluster template %s: %w", path, err)
	}
	return t, nil
}

type resourceProperty struct {
	Name  string
	Value string
}

// RenderResources writes the resource-definition document exposing props as
// a properties resource bound at jndiName. Properties are emitted sorted by name.
func RenderResources(w io.Writer, jndiName string, props map[string]string) error {
	if jndiName == "" {
		return fmt.Errorf("jndi name is required")
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	properties := make([]resourceProperty, 0, len(keys))
	for _, k := range keys {
		properties = append(properties, resourceProperty{Name: k, Value: props[k]})
	}

	data := struct {
		JNDIName   string
		Properties []resourceProperty
	}{jndiName, properties}
	if err := resourcesTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render resources: %w", err)
	}
	return nil
}

// ClusterMembers returns "<server>:<port>" for each server, in order.
func ClusterMembers(servers []string, port int) []string {
	members := make([]string, 0, len(servers))
	for _, s := range servers {
		members = append(members, fmt.Sprintf("%s:%d", s, port))
	}
	return members
}

// RenderClusterConfig executes a cluster membership template.
func RenderClusterConfig(w io.Writer, tmpl *template.Template, port int, members []string) error {
	if tmpl == nil {
		tmpl = DefaultClusterTemplate
	}
	data := struct {
		Port    int
		Members []string
	}{port, members}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render cluster config: %w", err)
	}
	return nil
}
