package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so workflow definitions can carry timeouts as
// strings ("30s", "5m") or as integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch value := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}

		*d = Duration(parsed)

		return nil
	case float64:
		*d = Duration(time.Duration(value) * time.Second)

		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}
