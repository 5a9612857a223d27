// Package client implements the CRM tools: create_lead, update_client, and
// search_clients. The planning service converts natural language like "add a
// lead for Jane from the wedding fair" into structured tool calls.
package client

import (
	"fmt"
	"strings"
)

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("parameter %s must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
