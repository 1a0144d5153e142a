package ingestion

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

const DefaultSignatureTolerance = 5 * time.Minute

func unauthorized(format string, args ...any) error {
	return apperrors.Wrap(apperrors.ClassAuth, fmt.Errorf(format+": %w", append(args, apperrors.ErrUnauthorized)...))
}

// VerifyStripeSignature checks a `t=<unix>,v1=<hex>` header. The signed
// payload is "<t>.<body>"; any v1 entry may match.
func VerifyStripeSignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return unauthorized("payment webhook secret not configured")
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return unauthorized("malformed signature header")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return unauthorized("malformed signature timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return unauthorized("signature timestamp outside tolerance")
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return unauthorized("signature mismatch")
}

// SignStripePayload builds a header VerifyStripeSignature accepts.
func SignStripePayload(body []byte, secret string, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t + "."))
	mac.Write(body)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyGitHubSignature checks an `X-Hub-Signature-256: sha256=<hex>` header.
func VerifyGitHubSignature(header string, body []byte, secret string) error {
	if secret == "" {
		return unauthorized("deployment webhook secret not configured")
	}
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return unauthorized("malformed signature header")
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return unauthorized("malformed signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return unauthorized("signature mismatch")
	}
	return nil
}

func SignGitHubPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
