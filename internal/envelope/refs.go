package envelope

import (
	"strings"

	"omnimem/internal/types"
)

// Reference types accepted in envelopes.
var refTypes = map[string]bool{
	"memory": true,
	"file":   true,
	"url":    true,
	"issue":  true,
	"pr":     true,
	"commit": true,
	"doc":    true,
}

// ParseReference parses the CLI reference form "type:target" or
// "type:target|note".
func ParseReference(raw string) (types.Reference, error) {
	var ref types.Reference
	head, note, _ := strings.Cut(raw, "|")
	typ, target, ok := strings.Cut(head, ":")
	if !ok {
		return ref, types.NewError(types.ErrInvalidArgument,
			"reference %q must have the form type:target[|note]", raw)
	}
	ref = types.Reference{
		Type:   strings.ToLower(strings.TrimSpace(typ)),
		Target: strings.TrimSpace(target),
		Note:   strings.TrimSpace(note),
	}
	if err := ValidateReference(ref); err != nil {
		return types.Reference{}, err
	}
	return ref, nil
}

// FormatReference renders a reference back to its CLI form.
func FormatReference(ref types.Reference) string {
	s := ref.Type + ":" + ref.Target
	if ref.Note != "" {
		s += "|" + ref.Note
	}
	return s
}

// ValidateReference checks type membership and per-type target shape.
func ValidateReference(ref types.Reference) error {
	if !refTypes[ref.Type] {
		return types.NewError(types.ErrInvalidArgument,
			"unknown reference type %q (valid: memory, file, url, issue, pr, commit, doc)", ref.Type)
	}
	if ref.Target == "" {
		return types.NewError(types.ErrInvalidArgument, "reference target must not be empty")
	}
	switch ref.Type {
	case "memory":
		if !ValidID(ref.Target) {
			return types.NewError(types.ErrInvalidArgument,
				"memory reference target %q is not a memory id", ref.Target)
		}
	case "url":
		if !strings.HasPrefix(ref.Target, "http://") && !strings.HasPrefix(ref.Target, "https://") {
			return types.NewError(types.ErrInvalidArgument,
				"url reference target %q must start with http:// or https://", ref.Target)
		}
	}
	return nil
}
