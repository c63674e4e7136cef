package session

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// ExtractJSON finds the first complete JSON object or array in mixed CLI
// output. Log lines before or after the value are ignored.
func ExtractJSON(out string) (json.RawMessage, error) {
	text := StripANSI(out)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, eris.New("session: no JSON value in reply")
}

// unwrapResult returns the "result" member of an evaluate reply when the
// backend wraps it, else the reply itself.
func unwrapResult(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return raw
	}
	if res, ok := env["result"]; ok {
		return res
	}
	return raw
}

func isGatewayDown(combined string) bool {
	low := strings.ToLower(combined)
	return strings.Contains(low, "gateway closed") || strings.Contains(low, "error: gateway")
}

func looksSuccessful(combined string) bool {
	low := strings.ToLower(combined)
	return strings.Contains(low, "wait complete") || strings.Contains(low, "closed tab")
}
