package itembank

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/barometer/internal/domain/model"
)

// Document is the serialized form of a bank, used for YAML files and for
// snapshots persisted by the ledger.
type Document struct {
	Version    string      `koanf:"version" json:"version"`
	Framework  string      `koanf:"framework" json:"framework"`
	Dimensions []Dimension `koanf:"dimensions" json:"dimensions"`
	Items      []Item      `koanf:"items" json:"items"`
}

// Load reads a YAML item bank from path and validates it.
func Load(_ context.Context, path string) (*Bank, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadBank, path, err)
	}
	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadBank, path, err)
	}
	return FromDocument(doc)
}

// FromDocument builds a validated bank from its serialized form.
func FromDocument(doc Document) (*Bank, error) {
	fw, err := model.ParseFramework(doc.Framework)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBank, err)
	}
	return New(doc.Version, fw, doc.Dimensions, doc.Items)
}

// Document returns the serialized form of the bank, with load-time
// defaults applied.
func (b *Bank) Document() Document {
	return Document{
		Version:    b.version,
		Framework:  string(b.framework),
		Dimensions: b.Dimensions(),
		Items:      b.Items(),
	}
}
