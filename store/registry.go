package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/bkt/git"
)

// Factory creates a store from its configuration.
type Factory func(context.Context, map[string]interface{}) (Store, error)

var registry = make(map[string]Factory)

// Register makes a store type available to Create under the given key.
// Store packages call it from init.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a store of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, errors.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// CreateNested creates the store described by conf's "nested" parameter,
// a map with a "type" key naming the registered store type.
func CreateNested(ctx context.Context, conf map[string]interface{}) (Store, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	s, err := Create(ctx, nestedType, nested)
	return s, errors.Wrap(err, "creating nested store")
}

// Int gets an integer parameter.
// YAML configs produce int values and JSON configs float64 ones.
func Int(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// IDType gets the "idtype" parameter, defaulting to SHA-1.
func IDType(conf map[string]interface{}) (git.IDType, error) {
	s, ok := conf["idtype"].(string)
	if !ok {
		return git.SHA1, nil
	}
	return git.ParseIDType(s)
}
