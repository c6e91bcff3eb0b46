package webhooks

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/goliatone/go-order-hub/core"
)

// SignatureValidator verifies provider HMAC signatures against an ordered
// list of secrets so old and new secrets both validate during a rotation.
type SignatureValidator struct{}

// Validate computes the HMAC over the exact raw payload with each secret in
// order and stops at the first match. A missing signature is accepted only
// when the adapter declares signing optional and the provider config opts in.
func (SignatureValidator) Validate(
	signing core.SigningConfig,
	cfg core.ProviderAdapterConfig,
	rawPayload []byte,
	headers map[string]string,
) core.ValidationResult {
	result := core.ValidationResult{MatchedSecretIndex: -1}

	header := SignatureHeader(signing, cfg, headers)
	if header == "" {
		if signing.Optional && cfg.AllowUnsigned {
			result.OK = true
			result.Unsigned = true
		}
		return result
	}

	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(signing.Prefix)))
	provided, ok := decodeSignature(signing.Encoding, signature)
	if !ok || len(provided) == 0 {
		return result
	}

	for index, secret := range cfg.Secrets {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		mac := hmac.New(hashFor(signing.Algorithm), []byte(secret))
		_, _ = mac.Write(rawPayload)
		expected := mac.Sum(nil)
		if subtle.ConstantTimeCompare(provided, expected) == 1 {
			result.OK = true
			result.MatchedSecretIndex = index
			return result
		}
	}
	return result
}

// SignatureHeader returns the first non-empty signature header value. Header
// names from the provider config take precedence over the adapter defaults.
func SignatureHeader(signing core.SigningConfig, cfg core.ProviderAdapterConfig, headers map[string]string) string {
	names := cfg.SignatureHeaders
	if len(names) == 0 {
		names = signing.Headers
	}
	for _, name := range names {
		if value := headerValue(headers, name); value != "" {
			return value
		}
	}
	return ""
}

// Sign returns the encoded signature a provider would send for rawPayload.
func Sign(signing core.SigningConfig, secret string, rawPayload []byte) string {
	mac := hmac.New(hashFor(signing.Algorithm), []byte(secret))
	_, _ = mac.Write(rawPayload)
	sum := mac.Sum(nil)
	var encoded string
	switch signing.Encoding {
	case core.SignatureEncodingBase64:
		encoded = base64.StdEncoding.EncodeToString(sum)
	default:
		encoded = hex.EncodeToString(sum)
	}
	return signing.Prefix + encoded
}

func decodeSignature(encoding core.SignatureEncoding, signature string) ([]byte, bool) {
	if signature == "" {
		return nil, false
	}
	switch encoding {
	case core.SignatureEncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return nil, false
		}
		return decoded, true
	default:
		decoded, err := hex.DecodeString(strings.ToLower(signature))
		if err != nil {
			return nil, false
		}
		return decoded, true
	}
}

func hashFor(algorithm core.SignatureAlgorithm) func() hash.Hash {
	switch algorithm {
	case core.SignatureAlgorithmHMACSHA1:
		return sha1.New
	case core.SignatureAlgorithmHMACSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return strings.TrimSpace(value)
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
