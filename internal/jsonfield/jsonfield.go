// Package jsonfield reads loosely typed fields out of the live service's JSON
// documents, which send the same field as a number in one place and as a
// string in another.
package jsonfield

import (
	"strconv"

	"github.com/buger/jsonparser"
)

// Int returns the integer at keys, given either as a JSON number or as a
// numeric string. Missing or unparsable values read as 0.
func Int(data []byte, keys ...string) int64 {
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return 0
	}

	switch t {
	case jsonparser.Number:
		if n, err := jsonparser.ParseInt(v); err == nil {
			return n
		}
		f, _ := jsonparser.ParseFloat(v)
		return int64(f)
	case jsonparser.String:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// String returns the string at keys. A JSON number is returned as written.
func String(data []byte, keys ...string) string {
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return ""
	}

	switch t {
	case jsonparser.Number:
		return string(v)
	case jsonparser.String:
		s, _ := jsonparser.ParseString(v)
		return s
	default:
		return ""
	}
}
