package mcp

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// redactedArguments are tool arguments that carry end-user text.
var redactedArguments = map[string]struct{}{
	"query": {},
	"text":  {},
}

// redactedResultFields are result fields that carry knowledge-base text.
var redactedResultFields = map[string]struct{}{
	"content": {},
	"text":    {},
}

// redactMCPBody replaces user queries and passage text in MCP payloads
// with length markers.
func redactMCPBody(raw string) string {
	if raw == "" {
		return raw
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	out, err := json.Marshal(redactMCPValue(payload, false))
	if err != nil {
		return raw
	}
	return string(out)
}

func redactMCPValue(value any, inArguments bool) any {
	switch v := value.(type) {
	case map[string]any:
		return redactMCPMap(v, inArguments)
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			result = append(result, redactMCPValue(item, inArguments))
		}
		return result
	default:
		return value
	}
}

func redactMCPMap(input map[string]any, inArguments bool) map[string]any {
	output := make(map[string]any, len(input))
	for key, value := range input {
		if text, ok := value.(string); ok {
			_, argHit := redactedArguments[key]
			_, resultHit := redactedResultFields[key]
			if (inArguments && argHit) || (!inArguments && resultHit) {
				output[key] = redactedMarker(text)
				continue
			}
		}
		output[key] = redactMCPValue(value, inArguments || key == "arguments")
	}
	return output
}

func redactedMarker(text string) string {
	return fmt.Sprintf("[redacted %d chars]", utf8.RuneCountInString(text))
}

// redactHookPayload renders a redacted JSON string for hook logging.
func redactHookPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return redactMCPBody(string(data))
}
