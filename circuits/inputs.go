// Package circuits defines the verifiable programs behind Fantasma's
// zero-knowledge claims and the JSON input schemas bound to them.
//
// Each circuit proves a predicate about a committed private value without
// revealing it. Commitments use MiMC over BN254 so the same binding can be
// recomputed on the host side.
package circuits

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark/frontend"
)

// InputParser converts raw JSON inputs into a circuit assignment.
type InputParser interface {
	Parse(publicInput, privateInput []byte) (frontend.Circuit, error)
}

// FieldValue is a JSON-friendly field element: it accepts a JSON number,
// a decimal string, or a 0x-prefixed hex string.
type FieldValue big.Int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v := (*big.Int)(f)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if _, ok := v.SetString(s[2:], 16); !ok {
			return fmt.Errorf("invalid hex field value %q", s)
		}
		return nil
	}
	if _, ok := v.SetString(s, 10); !ok {
		return fmt.Errorf("invalid field value %q", s)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f *FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal((*big.Int)(f).String())
}

// BigInt returns the underlying value, or zero when f is nil.
func (f *FieldValue) BigInt() *big.Int {
	if f == nil {
		return new(big.Int)
	}
	return (*big.Int)(f)
}

func requireFields(kind string, fields map[string]*FieldValue) error {
	for name, v := range fields {
		if v == nil {
			return fmt.Errorf("%s input missing field %q", kind, name)
		}
	}
	return nil
}

// HexField encodes 32 canonical field bytes as a 0x hex string for JSON
// transport.
func HexField(b [32]byte) string {
	return "0x" + new(big.Int).SetBytes(b[:]).Text(16)
}
