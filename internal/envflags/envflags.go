// Package envflags reads debugging toggles from the LPMBOX_OPTIONS
// environment variable, e.g. LPMBOX_OPTIONS=keep-plaintext,settle=1.
package envflags

import (
	"os"
	"strconv"
	"strings"
)

const envKEY = "LPMBOX_OPTIONS"

// Known options.
const (
	// KeepPlaintext keeps the decrypted and pre-policy scatter copies
	KeepPlaintext = "keep-plaintext"
	// Settle overrides the pause (seconds) between flow steps
	Settle = "settle"
)

func options() map[string]string {
	opts := map[string]string{}

	env := os.Getenv(envKEY)
	if env == "" {
		return opts
	}

	for _, s := range strings.Split(env, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k, v, found := strings.Cut(s, "=")
		if !found {
			v = "true"
		}
		opts[k] = v
	}

	return opts
}

// Bool returns true if the option is set to a true value. Invalid values
// count as false.
func Bool(option string) bool {
	b, err := strconv.ParseBool(options()[option])
	if err != nil {
		return false
	}
	return b
}

func String(option string) string {
	return options()[option]
}

// Int returns the integer value of the option, or def if it is unset or
// not a number.
func Int(option string, def int) int {
	v, ok := options()[option]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
