package services

import (
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

const placeholderPostbackSecret = "your_postback_secret_here"

type VerifierMode string

const (
	VerifierModeSigned   VerifierMode = "signed"
	VerifierModeUnsigned VerifierMode = "unsigned"
)

// PostbackEvent is a provider callback as received on the wire. Amounts stay
// strings because the signature covers their exact text.
type PostbackEvent struct {
	Provider       string
	UserID         string
	TransactionID  string
	OfferID        string
	OfferName      string
	Revenue        string
	CurrencyReward string
	Status         string
	IP             string
	Hash           string
	Raw            map[string]string
}

type Verdict struct {
	Accepted     bool
	Mode         VerifierMode
	ReducedTrust bool
	Reason       string
}

// PostbackVerifier checks that a callback was signed with the provider's
// shared secret. Without a secret it runs unsigned and accepts everything.
// A signed verifier also accepts callbacks that carry no hash at all unless
// requireSignature is set.
type PostbackVerifier struct {
	provider         string
	secret           string
	mode             VerifierMode
	requireSignature bool
}

func NewPostbackVerifier(provider, secret string, requireSignature bool) *PostbackVerifier {
	v := &PostbackVerifier{provider: provider, secret: secret, requireSignature: requireSignature, mode: VerifierModeSigned}
	if secret == "" || secret == placeholderPostbackSecret {
		v.secret = ""
		v.mode = VerifierModeUnsigned
		zap.L().Warn("postback secret not configured, callbacks are accepted unauthenticated",
			zap.String("provider", provider), zap.Bool("require_signature", requireSignature))
	}
	return v
}

func (v *PostbackVerifier) Mode() VerifierMode {
	return v.mode
}

// Sign returns hex(sha256(userID + ip + revenue + currencyReward + secret)).
func Sign(userID, ip, revenue, currencyReward, secret string) string {
	sum := sha256.Sum256([]byte(userID + ip + revenue + currencyReward + secret))
	return hex.EncodeToString(sum[:])
}

func (v *PostbackVerifier) Verify(event PostbackEvent) Verdict {
	if v.mode == VerifierModeUnsigned {
		if v.requireSignature {
			return v.reject(event, "signature required but no secret configured")
		}
		return v.acceptReducedTrust(event, "no secret configured")
	}

	if event.Hash == "" {
		if v.requireSignature {
			return v.reject(event, "missing hash")
		}
		return v.acceptReducedTrust(event, "hash omitted")
	}

	expected := Sign(event.UserID, event.IP, event.Revenue, event.CurrencyReward, v.secret)
	if event.Hash != expected {
		return v.reject(event, "hash mismatch")
	}

	return Verdict{Accepted: true, Mode: v.mode}
}

func (v *PostbackVerifier) acceptReducedTrust(event PostbackEvent, reason string) Verdict {
	zap.L().Warn("postback accepted without signature",
		zap.String("provider", v.provider),
		zap.String("transaction_id", event.TransactionID),
		zap.String("user_id", event.UserID),
		zap.Bool("reduced_trust", true),
		zap.String("reason", reason))
	return Verdict{Accepted: true, Mode: v.mode, ReducedTrust: true, Reason: reason}
}

func (v *PostbackVerifier) reject(event PostbackEvent, reason string) Verdict {
	zap.L().Warn("postback rejected",
		zap.String("provider", v.provider),
		zap.String("transaction_id", event.TransactionID),
		zap.String("user_id", event.UserID),
		zap.String("reason", reason))
	return Verdict{Accepted: false, Mode: v.mode, Reason: reason}
}

// PostbackVerifiers maps a provider name to its verifier.
type PostbackVerifiers map[string]*PostbackVerifier
