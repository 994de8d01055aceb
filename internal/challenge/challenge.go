// Package challenge turns a user's verification credential into the
// challenge response attached to every state-changing contract call.
package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/portal"
)

// VerificationType selects the user's verification method.
type VerificationType string

const (
	Pincode    VerificationType = "pincode"
	TwoFactor  VerificationType = "two-factor"
	SecretCode VerificationType = "secret-code"
)

// ParseVerificationType validates a verification type tag.
func ParseVerificationType(s string) (VerificationType, error) {
	switch t := VerificationType(s); t {
	case Pincode, TwoFactor, SecretCode:
		return t, nil
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown verification type %q", s)
	}
}

// Credential is a user-supplied verification code. It is consumed once and never stored.
type Credential struct {
	Code string           `json:"code"`
	Type VerificationType `json:"type"`
}

// String hides the code.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Type:%s}", c.Type)
}

// User is the acting user.
type User struct {
	ID     string
	Wallet common.Address
	// Verifications maps each enabled method to its Portal verification ID.
	Verifications map[VerificationType]string
}

// Response is the proof attached to a mutation.
type Response struct {
	ChallengeID       string `json:"challengeId,omitempty"`
	ChallengeResponse string `json:"challengeResponse"`
}

// Verifier is the Portal surface the authenticator needs.
type Verifier interface {
	CreateVerificationChallenge(ctx context.Context, wallet common.Address, verificationID string) (*portal.Challenge, error)
	VerifyChallenge(ctx context.Context, challengeID, response string) (bool, error)
}

// Remover deletes verification methods.
type Remover interface {
	Verifier
	DeleteVerification(ctx context.Context, wallet common.Address, verificationID, challengeID, response string) error
}

// Authenticator produces challenge responses. It holds no per-user state.
type Authenticator struct {
	verifier Verifier
}

// NewAuthenticator creates an authenticator backed by v.
func NewAuthenticator(v Verifier) *Authenticator {
	return &Authenticator{verifier: v}
}

// ValidateFormat checks the code shape for its type without any network call.
func ValidateFormat(cred Credential) error {
	switch cred.Type {
	case Pincode:
		if len(cred.Code) != 6 || !allDigits(cred.Code) {
			return apperrors.InvalidInput("pincode must be exactly 6 digits")
		}
	case TwoFactor, SecretCode:
		if len(cred.Code) < 6 || len(cred.Code) > 8 || !allAlphanumeric(cred.Code) {
			return apperrors.Newf(apperrors.CodeInvalidInput, "%s code must be 6-8 alphanumeric characters", cred.Type)
		}
	default:
		return apperrors.Newf(apperrors.CodeInvalidInput, "unknown verification type %q", cred.Type)
	}
	return nil
}

// ProduceChallengeResponse validates cred, obtains a Portal challenge for the
// user's matching verification method and returns the verified response.
// Failures are terminal for the attempt and never retried here.
func (a *Authenticator) ProduceChallengeResponse(ctx context.Context, user User, cred Credential) (Response, error) {
	if err := ValidateFormat(cred); err != nil {
		return Response{}, err
	}
	if user.Wallet == (common.Address{}) {
		return Response{}, apperrors.InvalidInput("user wallet is required")
	}

	verificationID := user.Verifications[cred.Type]
	if verificationID == "" {
		return Response{}, apperrors.VerificationNotConfigured(string(cred.Type))
	}

	ch, err := a.verifier.CreateVerificationChallenge(ctx, user.Wallet, verificationID)
	if err != nil {
		return Response{}, err
	}

	response := cred.Code
	if cred.Type == Pincode {
		if ch.Salt == "" || ch.Secret == "" {
			return Response{}, apperrors.New(apperrors.CodeInternal, "pincode challenge is missing salt or secret")
		}
		response = PincodeResponse(cred.Code, ch.Salt, ch.Secret)
	}

	verified, err := a.verifier.VerifyChallenge(ctx, ch.ID, response)
	if err != nil {
		return Response{}, err
	}
	if !verified {
		return Response{}, apperrors.InvalidCredential(nil)
	}

	return Response{ChallengeID: ch.ID, ChallengeResponse: response}, nil
}

// PincodeResponse derives the response for a pincode challenge:
// sha256hex(sha256hex(salt+pincode) + "_" + secret).
func PincodeResponse(pincode, salt, secret string) string {
	hashedPincode := sha256Hex(salt + pincode)
	return sha256Hex(hashedPincode + "_" + secret)
}

// DeleteVerification removes the user's verification method of the given type
// after proving possession of it with cred.
func DeleteVerification(ctx context.Context, r Remover, user User, target VerificationType, cred Credential) error {
	verificationID := user.Verifications[target]
	if verificationID == "" {
		return apperrors.VerificationNotConfigured(string(target))
	}

	resp, err := NewAuthenticator(r).ProduceChallengeResponse(ctx, user, cred)
	if err != nil {
		return err
	}
	return r.DeleteVerification(ctx, user.Wallet, verificationID, resp.ChallengeID, resp.ChallengeResponse)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func allAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
