package benchmark

import (
	"context"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type document struct {
	Records []Record `koanf:"records"`
}

// Load reads and validates benchmark records from a YAML file.
func Load(_ context.Context, path string) ([]Record, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	var doc document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	for _, rec := range doc.Records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Records, nil
}
