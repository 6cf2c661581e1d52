package ledger

import "strings"

// Parameter templates map contract argument names to either a concrete value
// or a {placeholder} substituted at call time. The recognized placeholders
// are the wallet and coordinate of the triggering update.
const (
	PlaceholderWallet    = "{wallet}"
	PlaceholderLatitude  = "{latitude}"
	PlaceholderLongitude = "{longitude}"
)

// webauthnFields are the template keys that belong to the out-of-band
// WebAuthn dispatch flow (mirroring the dispatcher contract's intent and
// signature shapes). A concrete value on any of them means the call must be
// completed by a user-present signer, never by this worker.
var webauthnFields = map[string]bool{
	"webauthn_credential": true,
	"webauthn_signature":  true,
	"passkey_public_key":  true,
	"authenticator_data":  true,
	"client_data_json":    true,
	"rp_id_hash":          true,
}

// TemplateRequiresWebAuthn reports whether the template carries a WebAuthn
// field with a concrete (non-placeholder, non-empty) value.
func TemplateRequiresWebAuthn(template map[string]string) bool {
	for key, value := range template {
		if !webauthnFields[key] {
			continue
		}
		if value == "" || isPlaceholder(value) {
			continue
		}
		return true
	}
	return false
}

// ResolveParams substitutes placeholders with the update's wallet and
// coordinate, passing concrete values through untouched.
func ResolveParams(template map[string]string, wallet string, latitude, longitude string) map[string]string {
	resolved := make(map[string]string, len(template))
	for key, value := range template {
		switch value {
		case PlaceholderWallet:
			resolved[key] = wallet
		case PlaceholderLatitude:
			resolved[key] = latitude
		case PlaceholderLongitude:
			resolved[key] = longitude
		default:
			resolved[key] = value
		}
	}
	return resolved
}

func isPlaceholder(v string) bool {
	return strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")
}
