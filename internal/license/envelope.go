package license

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"prolicense/internal/security"
)

// envelope is the on-disk cache format. Every binary field is lowercase hex.
type envelope struct {
	Version   int    `json:"version"`
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
	Salt      string `json:"salt"`
	HMAC      string `json:"hmac"`
}

// rawEnvelope mirrors envelope with pointers so absent fields can be told apart from empty ones.
type rawEnvelope struct {
	Version   *int    `json:"version"`
	Encrypted *string `json:"encrypted"`
	IV        *string `json:"iv"`
	Tag       *string `json:"tag"`
	Salt      *string `json:"salt"`
	HMAC      *string `json:"hmac"`
}

// decodedEnvelope holds the verified-shape binary fields of an envelope.
type decodedEnvelope struct {
	version    int
	ciphertext []byte
	iv         [security.IVSize]byte
	tag        [security.TagSize]byte
	salt       [security.SaltSize]byte
	mac        [security.MACSize]byte
}

func newEnvelope(sealed *security.Sealed, salt []byte, version int, macKey []byte) *envelope {
	env := &envelope{
		Version:   version,
		Encrypted: hex.EncodeToString(sealed.Ciphertext),
		IV:        hex.EncodeToString(sealed.IV),
		Tag:       hex.EncodeToString(sealed.Tag),
		Salt:      hex.EncodeToString(salt),
	}
	env.HMAC = hex.EncodeToString(security.ComputeHMAC(env.macInput(), macKey))
	return env
}

// macInput is the authenticated string: encrypted|iv|tag|salt|version.
func (e *envelope) macInput() []byte {
	return []byte(strings.Join([]string{
		e.Encrypted, e.IV, e.Tag, e.Salt, strconv.Itoa(e.Version),
	}, "|"))
}

// parseEnvelope decodes data into an envelope and its binary fields, rejecting
// anything that is not exactly the expected shape.
func parseEnvelope(data []byte) (*envelope, *decodedEnvelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, corrupted("envelope is not valid JSON")
	}
	if raw.Version == nil || raw.Encrypted == nil || raw.IV == nil ||
		raw.Tag == nil || raw.Salt == nil || raw.HMAC == nil {
		return nil, nil, corrupted("envelope is missing fields")
	}

	env := &envelope{
		Version:   *raw.Version,
		Encrypted: *raw.Encrypted,
		IV:        *raw.IV,
		Tag:       *raw.Tag,
		Salt:      *raw.Salt,
		HMAC:      *raw.HMAC,
	}
	if env.Version != CacheVersion {
		return nil, nil, corrupted("unsupported cache version " + strconv.Itoa(env.Version))
	}

	dec := &decodedEnvelope{version: env.Version}
	var err error
	if dec.ciphertext, err = decodeHex(env.Encrypted, -1); err != nil || len(dec.ciphertext) == 0 {
		return nil, nil, corrupted("ciphertext is malformed")
	}
	if err := decodeInto(dec.iv[:], env.IV); err != nil {
		return nil, nil, corrupted("iv is malformed")
	}
	if err := decodeInto(dec.tag[:], env.Tag); err != nil {
		return nil, nil, corrupted("tag is malformed")
	}
	if err := decodeInto(dec.salt[:], env.Salt); err != nil {
		return nil, nil, corrupted("salt is malformed")
	}
	if err := decodeInto(dec.mac[:], env.HMAC); err != nil {
		return nil, nil, corrupted("hmac is malformed")
	}
	return env, dec, nil
}

func decodeInto(dst []byte, s string) error {
	b, err := decodeHex(s, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// decodeHex accepts only lowercase hex of the given decoded length (-1 for any).
func decodeHex(s string, n int) ([]byte, error) {
	if n >= 0 && len(s) != 2*n {
		return nil, errHexLength
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return nil, errHexChar
		}
	}
	return hex.DecodeString(s)
}

var (
	errHexLength = corrupted("hex field has wrong length")
	errHexChar   = corrupted("hex field has invalid characters")
)
