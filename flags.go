package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// bindFlags binds each viper key to the named flag.
func bindFlags(lookup func(string) *pflag.Flag, keys map[string]string) {
	for key, name := range keys {
		f := lookup(name)
		if f == nil {
			panic("unknown flag " + name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

// parseHex accepts hex with optional 0x prefixes and space, colon or dash
// separators, e.g. "fa af 3d" or "FA:AF:3D".
func parseHex(parts ...string) ([]byte, error) {
	var sb strings.Builder
	for _, p := range parts {
		for _, field := range strings.FieldsFunc(p, func(r rune) bool {
			return r == ' ' || r == ':' || r == '-' || r == ',' || r == '\t' || r == '\n'
		}) {
			field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
			sb.WriteString(field)
		}
	}
	b, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
