// Package config loads pipeline settings from YAML or JSON.
//
// A Config wraps a decoded map and offers typed accessors that fall back to
// a default when a key is missing or has the wrong type:
//
//	cfg, err := config.FromFile("pipeline.yaml")
//	if err != nil {
//	    return err
//	}
//	p := typeflow.New("orders", typeflow.WithConfig(cfg.Sub("pipeline")))
//
// Durations accept Go duration strings ("250ms") or numbers of seconds.
package config
