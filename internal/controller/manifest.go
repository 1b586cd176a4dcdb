package controller

import (
	"fmt"
	"io"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"gopkg.in/yaml.v3"
)

// Manifest is a serialisable snapshot of a composed tree.
type Manifest struct {
	Report *DiscoveryReport `json:"report,omitempty" yaml:"report,omitempty"`
	Nodes  []NodeManifest   `json:"nodes" yaml:"nodes"`
}

type NodeManifest struct {
	ID         string            `json:"id" yaml:"id"`
	Label      string            `json:"label" yaml:"label"`
	APIPrefix  string            `json:"api_prefix" yaml:"api_prefix"`
	Parent     string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Attributes []attributes.Info `json:"attributes" yaml:"attributes"`
}

// BuildManifest lists every node below root except root itself.
func BuildManifest(root *Controller, report *DiscoveryReport) Manifest {
	m := Manifest{Report: report, Nodes: []NodeManifest{}}
	appendNodes(&m, root, "")
	return m
}

func appendNodes(m *Manifest, node *Controller, parent string) {
	for _, child := range node.children {
		m.Nodes = append(m.Nodes, Describe(child, parent))
		appendNodes(m, child, child.id)
	}
}

// Describe summarises one node.
func Describe(node *Controller, parent string) NodeManifest {
	attrs := node.attrs.List()
	infos := make([]attributes.Info, 0, len(attrs))
	for _, attr := range attrs {
		infos = append(infos, attr.Info())
	}
	return NodeManifest{
		ID:         node.id,
		Label:      node.label,
		APIPrefix:  node.apiPrefix,
		Parent:     parent,
		Attributes: infos,
	}
}

// WriteYAML encodes the manifest as YAML.
func (m Manifest) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return enc.Close()
}
