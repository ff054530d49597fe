// Package deframe extracts complete JSON objects from an upstream byte stream
// that arrives in arbitrary fragments.
//
// Upstream LLM providers deliver streaming completions as SSE "data:" lines,
// NDJSON, or an ad hoc mix of both, and the transport splits them wherever it
// likes. The deframer ignores framing entirely: it tracks brace nesting and
// string state, emits every balanced object that decodes, and silently drops
// anything between objects ("data: ", "[DONE]", keep-alive comments).
//
//	fragment ──┐
//	           ▼
//	┌──────────────────────┐   ┌──────────────────┐
//	│ residue + fragment   │──▶│ complete objects │
//	└──────────────────────┘   └──────────────────┘
//	           │
//	           ▼
//	┌──────────────────────┐
//	│ new residue          │  (open object prefix, carried to the next call)
//	└──────────────────────┘
//
// No scanner state survives between calls. Nesting depth and the string flag
// are recomputed from the residue text on every call, so the residue always
// begins at an opening brace outside of any string.
package deframe

import (
	"bytes"
	"encoding/json"
)

// Feed scans residue followed by fragment and returns every complete object
// found, in order, along with the residue to pass to the next call.
// Candidates that balance but do not decode are dropped.
func Feed(residue, fragment []byte) ([]json.RawMessage, []byte) {
	res := scan(join(residue, fragment))
	return res.objects, res.residue
}

type scanResult struct {
	objects   []json.RawMessage
	residue   []byte
	discarded int
}

// scan walks input once. A quote only opens a string inside an object; a
// backslash inside a string escapes exactly the next byte, which makes an odd
// run of backslashes before a quote escape it and an even run not.
func scan(input []byte) scanResult {
	var (
		res      scanResult
		depth    int
		inString bool
		escaped  bool
		start    = -1
	)

	for i, b := range input {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			// A closing brace in the noise between objects has nothing to close.
			if depth == 0 {
				break
			}
			depth--
			if depth == 0 {
				candidate := input[start : i+1]
				if json.Valid(candidate) {
					res.objects = append(res.objects, json.RawMessage(bytes.Clone(candidate)))
				} else {
					res.discarded++
				}
				start = -1
			}
		}
	}

	if depth > 0 {
		res.residue = bytes.Clone(input[start:])
	}

	return res
}

func join(residue, fragment []byte) []byte {
	if len(residue) == 0 {
		return fragment
	}
	out := make([]byte, 0, len(residue)+len(fragment))
	out = append(out, residue...)
	return append(out, fragment...)
}
