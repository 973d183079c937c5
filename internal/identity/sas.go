package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SASToken builds a shared access signature for resource, valid until
// expiry. keyName is optional and only used by provisioning.
//
// The signature is HMAC-SHA256 over "<url-encoded resource>\n<expiry>",
// keyed with the base64-decoded symmetric key.
//
// Parameters:
//   - resource: The resource URI the token grants access to
//   - key: Base64 symmetric key
//   - keyName: Policy name ("registration" for provisioning), may be empty
//   - expiry: Absolute expiry time (encoded as unix seconds)
//
// Returns:
//   - string: "SharedAccessSignature sr=...&sig=...&se=...[&skn=...]"
//   - error: ErrInvalidKey if key is not valid base64
func SASToken(resource, key, keyName string, expiry time.Time) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	sr := url.QueryEscape(resource)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, rawKey)
	mac.Write([]byte(sr + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, url.QueryEscape(sig), se)
	if keyName != "" {
		token += "&skn=" + url.QueryEscape(keyName)
	}
	return token, nil
}
