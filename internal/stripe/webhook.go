package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"avtoborsa/internal/domain"
)

// SignatureHeader is the header carrying the webhook signature
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds replay risk on webhook timestamps
const DefaultTolerance = 300 * time.Second

// VerifySignature authenticates a raw webhook payload. The header encodes a
// unix timestamp and one or more candidate signatures:
//
//	t=1703245678,v1=5257a869e7...,v1=...
//
// The expected signature is HMAC-SHA256(secret, "{t}.{payload}"). Any failure
// returns the same generic error so callers cannot learn which check failed.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if header == "" || secret == "" {
		return domain.ErrSignatureInvalid
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	var timestamp int64
	var candidates [][]byte
	seenTimestamp := false

	for _, pair := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return domain.ErrSignatureInvalid
			}
			timestamp = ts
			seenTimestamp = true
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}

	if !seenTimestamp || len(candidates) == 0 {
		return domain.ErrSignatureInvalid
	}

	// Reject stale or future timestamps beyond the tolerance window
	now := time.Now().Unix()
	if now-timestamp > int64(tolerance.Seconds()) || timestamp-now > int64(tolerance.Seconds()) {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return domain.ErrSignatureInvalid
}

// ConstructEvent verifies a webhook payload and unmarshals the event
// envelope. An empty secret skips verification and trusts the payload;
// config.Load refuses to start a production deployment without a secret,
// so that path only exists for local development.
func ConstructEvent(payload []byte, header, secret string, tolerance time.Duration) (*Event, error) {
	if secret != "" {
		if err := VerifySignature(payload, header, secret, tolerance); err != nil {
			return nil, err
		}
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrEventUnprocessable
	}
	if event.Type == "" {
		return nil, domain.ErrEventUnprocessable
	}
	return &event, nil
}

// SignPayload builds a valid signature header for a payload, for use in
// tests and local tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
