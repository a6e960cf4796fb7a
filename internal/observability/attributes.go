// Package observability provides metrics and tracing.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSuccess = "success"
	attrOutcome = "outcome"
	attrAction  = "action"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func actionAttr(action string) attribute.KeyValue {
	return attribute.String(attrAction, action)
}

// normalizePath replaces job ids with a placeholder to bound label cardinality.
func normalizePath(path string) string {
	const prefix = "/api/jobs/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return path
	}
	id, tail, _ := strings.Cut(rest, "/")
	switch id {
	case "batch", "import":
		return path
	}
	if tail == "" {
		return prefix + "{id}"
	}
	return prefix + "{id}/" + tail
}
