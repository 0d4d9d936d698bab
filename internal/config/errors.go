package config

import "fmt"

// MissingKeyError reports a required configuration key that is absent
// from every loaded file. Absence is decided on the merged raw view, so
// an explicit zero (e.g. min_price: 0) is present, not missing.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("required config key %q is missing", e.Key)
}
