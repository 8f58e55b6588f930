package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultExpiry is used when a signed URL is requested without an explicit lifetime.
const DefaultExpiry = 60 * time.Second

var (
	ErrSignatureInvalid = errors.New("blob: invalid signature")
	ErrSignatureExpired = errors.New("blob: signed url expired")
)

// Signer issues time limited download URLs of the form
// {base}/v1/storage/{bucket}/{path}?expires={unix}&sig={hex}.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner builds a signer. baseURL may be empty for relative URLs.
func NewSigner(secret, baseURL string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("blob signing secret is required")
	}
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Sign returns a URL granting read access to bucket/objectPath until now+expiry.
func (s *Signer) Sign(bucket, objectPath string, expiry time.Duration) (string, time.Time, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	expires := s.now().Add(expiry).Truncate(time.Second)
	exp := strconv.FormatInt(expires.Unix(), 10)
	q := url.Values{}
	q.Set("expires", exp)
	q.Set("sig", s.mac(bucket, p, exp))
	return s.baseURL + "/v1/storage/" + url.PathEscape(bucket) + "/" + escapePath(p) + "?" + q.Encode(), expires, nil
}

// Verify checks the expires and sig query values for bucket/objectPath.
func (s *Signer) Verify(bucket, objectPath, expires, sig string) error {
	p, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.mac(bucket, p, expires)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sig))) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > unix {
		return ErrSignatureExpired
	}
	return nil
}

func (s *Signer) mac(bucket, objectPath, expires string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(bucket + "\n" + objectPath + "\n" + expires))
	return hex.EncodeToString(m.Sum(nil))
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
