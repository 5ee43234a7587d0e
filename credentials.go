package ice

import (
	"crypto/rand"
	"encoding/base32"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// icechars is the RFC 8445 Section 5.3 "ice-char" alphabet: ALPHA /
// DIGIT / "+" / "/".
const icechars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	minUfragLen = 4
	maxUfragLen = 256
	minPwdLen   = 22
	maxPwdLen   = 256
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Credentials is a local or remote ufrag/password pair (spec.md §6.4).
// Remote credentials are learned via the offer/answer boundary; local
// credentials are generated by GenerateCredentials.
type Credentials struct {
	Ufrag    string
	Password string
}

// GenerateCredentials produces a fresh local ufrag/password pair: the
// ufrag is a 24-bit cryptographically random integer concatenated with
// a base-32 tag of the current time, padded with random ice-chars up
// to the 4-character minimum; the password is the base-32 encoding of
// a 128-bit cryptographically random integer, padded the same way up
// to its 22-character minimum (spec.md §6.4).
func GenerateCredentials(now time.Time) (Credentials, error) {
	randPart, err := randomBigUint(24)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "failed to generate ufrag random part")
	}
	timeTag := b32.EncodeToString(big.NewInt(now.UnixNano()).Bytes())
	ufrag := randPart.Text(32) + timeTag
	ufrag, err = padICEChars(ufrag, minUfragLen)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "failed to pad ufrag")
	}
	if len(ufrag) > maxUfragLen {
		ufrag = ufrag[:maxUfragLen]
	}

	pwdRand, err := randomBigUint(128)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "failed to generate password random part")
	}
	pwd := b32.EncodeToString(pwdRand.Bytes())
	pwd, err = padICEChars(pwd, minPwdLen)
	if err != nil {
		return Credentials{}, errors.Wrap(err, "failed to pad password")
	}
	if len(pwd) > maxPwdLen {
		pwd = pwd[:maxPwdLen]
	}

	return Credentials{Ufrag: ufrag, Password: pwd}, nil
}

func randomBigUint(bits int) (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return rand.Int(rand.Reader, max)
}

// padICEChars appends cryptographically random ice-chars until s
// reaches minLen.
func padICEChars(s string, minLen int) (string, error) {
	for len(s) < minLen {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(icechars))))
		if err != nil {
			return "", err
		}
		s += string(icechars[n.Int64()])
	}
	return s, nil
}

// usernameFor builds the USERNAME attribute value for a request we
// send: "remoteUfrag:localUfrag" (spec.md §6.2).
func usernameFor(remoteUfrag, localUfrag string) string {
	return remoteUfrag + ":" + localUfrag
}

// localUfragFromUsername extracts the local-ufrag component from an
// inbound request's USERNAME attribute, i.e. the part before the
// colon when the request was addressed to us.
func localUfragFromUsername(username string) string {
	for i := 0; i < len(username); i++ {
		if username[i] == ':' {
			return username[:i]
		}
	}
	return ""
}
