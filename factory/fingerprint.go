package factory

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type configPrint struct {
	Dialect     string        `msgpack:"dialect"`
	Options     Options       `msgpack:"options"`
	Interceptor bool          `msgpack:"interceptor"`
	Entities    []entityPrint `msgpack:"entities"`
}

type entityPrint struct {
	Name          string          `msgpack:"name"`
	Table         string          `msgpack:"table"`
	Identity      string          `msgpack:"identity"`
	Key           []string        `msgpack:"key"`
	Version       string          `msgpack:"version,omitempty"`
	Strategy      string          `msgpack:"strategy"`
	DynamicUpdate bool            `msgpack:"dynamic_update"`
	Properties    []propertyPrint `msgpack:"properties"`
}

type propertyPrint struct {
	Name       string `msgpack:"name"`
	Column     string `msgpack:"column"`
	Type       string `msgpack:"type"`
	Optional   bool   `msgpack:"optional"`
	Immutable  bool   `msgpack:"immutable"`
	Computed   bool   `msgpack:"computed"`
	Generation string `msgpack:"generation"`
}

// fingerprintOf returns the hex sha256 of the msgpack encoding of cfg.
// The variant name is left out.
func fingerprintOf(cfg *Configuration) (string, error) {
	p := configPrint{
		Dialect:     cfg.dialect,
		Options:     cfg.opts,
		Interceptor: cfg.interceptor != nil,
	}
	for _, e := range cfg.reg.Entities() {
		ep := entityPrint{
			Name:          e.Name(),
			Table:         e.Table(),
			Identity:      e.Identity().String(),
			Strategy:      e.WriteStrategy().String(),
			DynamicUpdate: e.DynamicUpdate(),
		}
		for _, k := range e.Key() {
			ep.Key = append(ep.Key, k.Name())
		}
		if v, ok := e.Version(); ok {
			ep.Version = v.Name()
		}
		for _, prop := range e.Properties() {
			d, err := e.Field(prop)
			if err != nil {
				return "", err
			}
			ep.Properties = append(ep.Properties, propertyPrint{
				Name:       d.Name,
				Column:     d.Column,
				Type:       d.Type.String(),
				Optional:   d.Optional,
				Immutable:  d.Immutable,
				Computed:   d.Computed,
				Generation: d.Generation.String(),
			})
		}
		p.Entities = append(p.Entities, ep)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&p); err != nil {
		return "", fmt.Errorf("persist: encode configuration: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
