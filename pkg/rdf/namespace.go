package rdf

// Namespace binds a prefix to a namespace IRI.
type Namespace struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Name   string `yaml:"name" json:"name"`
}
