package claude

import (
	"bytes"
	"encoding/json"
)

// cliOutput is the --output-format json envelope written by the CLI.
type cliOutput struct {
	Content          string          `json:"content"`
	Result           string          `json:"result"`
	SessionID        string          `json:"session_id"`
	StructuredOutput json.RawMessage `json:"structured_output"`
}

// ParseResponse extracts the response content and session id from raw CLI
// output. Preference order: structured_output, content, result, then the
// extracted JSON itself. Output without any JSON object yields "".
func ParseResponse(raw []byte) (content string, sessionID string, err error) {
	extracted := ExtractJSON(string(raw))
	if extracted == "" {
		return "", "", nil
	}

	var out cliOutput
	if err := json.Unmarshal([]byte(extracted), &out); err != nil {
		// Not an envelope; the extracted object is the response
		return extracted, "", nil
	}

	if so := bytes.TrimSpace(out.StructuredOutput); len(so) > 0 && !bytes.Equal(so, []byte("null")) && !isEmptyObject(so) {
		return string(so), out.SessionID, nil
	}
	if out.Content != "" {
		return out.Content, out.SessionID, nil
	}
	if out.Result != "" {
		return out.Result, out.SessionID, nil
	}
	return extracted, out.SessionID, nil
}

func isEmptyObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) == 0
}

// ExtractJSON attempts to extract a JSON object from mixed content.
// It finds the first '{' and last '}' to extract the JSON substring.
// Returns empty string if no valid JSON boundaries found.
func ExtractJSON(content string) string {
	start := -1
	end := -1

	for i, c := range content {
		if c == '{' {
			start = i
			break
		}
	}

	for i := len(content) - 1; i >= 0; i-- {
		if content[i] == '}' {
			end = i
			break
		}
	}

	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}
