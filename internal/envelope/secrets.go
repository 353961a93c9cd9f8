package envelope

import (
	"regexp"

	"omnimem/internal/types"
)

// =============================================================================
// SECRET POLICY - Raw credentials never reach the store
// =============================================================================

// secretPattern pairs a human-readable label with its detector.
type secretPattern struct {
	label string
	re    *regexp.Regexp
}

// secretPatterns covers the credential shapes the writer refuses to store.
// Matching is deliberately loose: a false rejection costs a reworded note,
// a false acceptance leaks a secret to every synced device.
var secretPatterns = []secretPattern{
	{"private key block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"bearer token", regexp.MustCompile(`(?i)authorization:\s*bearer\s+\S+`)},
	{"password literal", regexp.MustCompile(`(?i)password\s*:\s*\S+`)},
	{"api key literal", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{"github token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)},
	{"slack token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"aws access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
}

// credRefEnv matches environment-variable credential references.
var credRefEnv = regexp.MustCompile(`^env://[A-Za-z_][A-Za-z0-9_]*$`)

// credRefOp matches 1Password-style vault references.
var credRefOp = regexp.MustCompile(`^op://[^/\s]+/[^/\s]+/[^/\s]+$`)

// ScanForSecrets returns the label of the first secret pattern found in
// text, or "" when the text is clean.
func ScanForSecrets(text string) string {
	for _, p := range secretPatterns {
		if p.re.MatchString(text) {
			return p.label
		}
	}
	return ""
}

// ValidateCredRef accepts only indirection forms: env://KEY or
// op://vault/item/field. Anything else, including a pasted secret, is
// rejected.
func ValidateCredRef(ref string) error {
	if credRefEnv.MatchString(ref) || credRefOp.MatchString(ref) {
		return nil
	}
	return types.NewError(types.ErrPolicyDenied,
		"cred_ref %q is not an env:// or op:// reference", ref).
		WithRemediation("store the secret in your environment or vault and reference it as env://KEY or op://vault/item/field")
}

func secretError(field, label string) error {
	return types.NewError(types.ErrPolicyDenied,
		"%s contains a %s", field, label).
		WithRemediation("remove the secret and reference it indirectly with a cred_ref (env://KEY or op://vault/item/field)")
}
