// services/hal/config.go
package hal

import "encoding/json"

// Minimal JSON config structures.

type Config struct {
	Version   int      `json:"version"`
	CadenceMS int      `json:"cadence_ms"` // state engine poll period
	Devices   []DevCfg `json:"devices"`
}

type DevCfg struct {
	ID     string `json:"id"`   // "gpio0", "uart0"
	Type   string `json:"type"` // "gpio","spi","i2c","uart","pwm","adc","timer"
	Params any    `json:"params,omitempty"`
}

// ParseConfig decodes a JSON config document. A nonzero cadence is clamped
// to a sane polling range; zero means "use the engine default".
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if cfg.CadenceMS != 0 {
		cfg.CadenceMS = clampInt(cfg.CadenceMS, 1, 1000)
	}
	return cfg, nil
}

// DecodeParams decodes a device params payload (raw JSON, a map, or a typed
// struct) into dst. Device builders share it.
func DecodeParams[T any](src any, dst *T) error {
	return decodeJSON(src, dst)
}

func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		// Accept maps, structs, numbers by marshaling then decoding to T.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
