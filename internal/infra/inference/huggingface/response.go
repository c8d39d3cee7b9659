package huggingface

import (
	"bytes"
	"encoding/json"
)

// Kind tags the top-level shape of a response body.
type Kind int

const (
	KindRaw Kind = iota // not JSON
	KindList
	KindObject
	KindString
	KindOther // valid JSON of another type (number, bool, null)
)

// Rule names the extraction rule that produced the report text.
type Rule string

const (
	RuleListObject Rule = "list_object"
	RuleListString Rule = "list_string"
	RuleObject     Rule = "object"
	RuleString     Rule = "string"
	RuleRawText    Rule = "raw_text"
	RuleFallback   Rule = "fallback"
)

// textKeys are checked in order; the first key present wins.
var textKeys = []string{"generated_text", "answer", "text"}

// Response is a decoded remote body.
type Response struct {
	Kind   Kind
	List   []json.RawMessage
	Object map[string]json.RawMessage
	String string
	Raw    []byte
}

// Decode classifies body without failing; anything unparseable is KindRaw.
func Decode(body []byte) Response {
	trimmed := bytes.TrimSpace(body)
	r := Response{Kind: KindRaw, Raw: trimmed}
	if len(trimmed) == 0 {
		return r
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &r.List); err == nil {
			r.Kind = KindList
		}
	case '{':
		if err := json.Unmarshal(trimmed, &r.Object); err == nil {
			r.Kind = KindObject
		}
	case '"':
		if err := json.Unmarshal(trimmed, &r.String); err == nil {
			r.Kind = KindString
		}
	default:
		if json.Valid(trimmed) {
			r.Kind = KindOther
		}
	}
	return r
}

// Text extracts the report text. Unrecognized shapes fall back to the raw body.
func (r Response) Text() (string, Rule) {
	switch r.Kind {
	case KindList:
		if len(r.List) == 0 {
			break
		}
		first := bytes.TrimSpace(r.List[0])
		switch {
		case bytes.HasPrefix(first, []byte("{")):
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(first, &obj); err == nil {
				if s, ok := lookupText(obj); ok {
					return s, RuleListObject
				}
			}
		case bytes.HasPrefix(first, []byte(`"`)):
			var s string
			if err := json.Unmarshal(first, &s); err == nil {
				return s, RuleListString
			}
		}
	case KindObject:
		if s, ok := lookupText(r.Object); ok {
			return s, RuleObject
		}
	case KindString:
		return r.String, RuleString
	case KindRaw:
		return string(r.Raw), RuleRawText
	}
	return string(r.Raw), RuleFallback
}

// Normalize decodes body and extracts its text.
func Normalize(body []byte) (string, Rule) {
	return Decode(body).Text()
}

func lookupText(obj map[string]json.RawMessage) (string, bool) {
	for _, k := range textKeys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		return string(raw), true
	}
	return "", false
}
