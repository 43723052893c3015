package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// BuildSign signs params (request fields plus auth headers) with the merchant key.
func BuildSign(params map[string]string, merchantKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, key := range keys {
		values.Set(key, params[key])
	}

	mac := hmac.New(sha256.New, []byte(merchantKey))
	mac.Write([]byte(values.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func EqualSign(given, expected string) bool {
	return hmac.Equal([]byte(strings.ToLower(given)), []byte(strings.ToLower(expected)))
}
