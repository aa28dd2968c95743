// Package canon implements the deterministic canonical-JSON byte
// serialization used exclusively as hash input across the ledger.
//
// It follows the same decode-to-interface{}-then-sorted-recursive-encode
// strategy as an RFC 8785 canonicalizer, extended with the project's own
// rules: NFC string normalization, line-ending normalization, rejection
// of duplicate object keys, and omission (rather than null-ing) of
// absent struct fields.
package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNonCanonicalizable is returned when a value cannot be canonicalized:
// NaN/Inf floats, cyclic structures (detected via decode depth is not
// possible here; json.Marshal already rejects cycles), or non-string
// object keys.
var ErrNonCanonicalizable = errors.New("non_canonicalizable")

// JSON returns the canonical byte serialization of v.
//
// v is first marshaled with the standard encoding/json (so struct tags,
// omitempty, etc. are honored) and then re-encoded deterministically:
// object keys sorted by Unicode code point, no insignificant whitespace,
// strings NFC-normalized with line endings normalized to "\n", numbers
// rendered in their shortest round-tripping form, duplicate keys
// rejected.
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		if isUnsupportedValueError(err) {
			return nil, fmt.Errorf("canon: %w: %v", ErrNonCanonicalizable, err)
		}
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	generic, err := decodeNoDup(dec)
	if err != nil {
		return nil, fmt.Errorf("canon: %w: %v", ErrNonCanonicalizable, err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONBytes canonicalizes raw JSON input (as received over the wire)
// rather than a Go value. Unlike JSON, this path can and does reject
// duplicate object keys, since the caller's bytes may contain them.
func JSONBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	generic, err := decodeNoDup(dec)
	if err != nil {
		return nil, fmt.Errorf("canon: %w: %v", ErrNonCanonicalizable, err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isUnsupportedValueError(err error) bool {
	var uve *json.UnsupportedValueError
	return errors.As(err, &uve)
}

// decodeNoDup decodes a single JSON value from dec, rejecting duplicate
// object keys at every depth.
func decodeNoDup(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeValue(dec, tok)
}

func decodeValue(dec *json.Decoder, tok json.Token) (interface{}, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := make(map[string]interface{})
			seen := make(map[string]bool)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("non-string object key")
				}
				if seen[key] {
					return nil, fmt.Errorf("duplicate key %q", key)
				}
				seen[key] = true

				valTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				val, err := decodeValue(dec, valTok)
				if err != nil {
					return nil, err
				}
				obj[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []interface{}
			for dec.More() {
				valTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				val, err := decodeValue(dec, valTok)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			if arr == nil {
				arr = []interface{}{}
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return t, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported token %T", tok)
	}
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case string:
		return encodeString(buf, t)
	case map[string]interface{}:
		return encodeObject(buf, t)
	case []interface{}:
		return encodeArray(buf, t)
	default:
		return fmt.Errorf("canon: %w: unsupported type %T", ErrNonCanonicalizable, v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: %w: invalid number %q", ErrNonCanonicalizable, n)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: %w: non-finite number", ErrNonCanonicalizable)
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	// Shortest round-tripping decimal representation.
	if isInteger(n.String()) {
		buf.WriteString(n.String())
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func isInteger(s string) bool {
	return !strings.ContainsAny(s, ".eE")
}

func encodeString(buf *bytes.Buffer, s string) error {
	s = normalizeString(s)
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canon: %w: %v", ErrNonCanonicalizable, err)
	}
	buf.Write(bytes.TrimSuffix(out.Bytes(), []byte("\n")))
	return nil
}

// normalizeString applies NFC normalization and converts line endings
// (CRLF and lone CR) to LF, per the canonicalization rules.
func normalizeString(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return norm.NFC.String(s)
}

func encodeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Go string comparison is byte-wise UTF-8, i.e. code-point order.

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
