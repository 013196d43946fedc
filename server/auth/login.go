// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"decred.org/nftdex/dex"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChallengeSize is the length of a login challenge.
const ChallengeSize = 32

// NewChallenge generates a random login challenge.
func NewChallenge() ([]byte, error) {
	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// LoginMessage is the text an account signs to log in with the challenge.
func LoginMessage(challenge []byte) []byte {
	return []byte(fmt.Sprintf("nftdex login %x", challenge))
}

// SignLogin signs the login message of the challenge the way wallets do for
// personal_sign, with a recovery id of 27 or 28.
func SignLogin(challenge []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(LoginMessage(challenge)), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// VerifyLogin checks that sig is the account's personal_sign signature of the
// login message of the challenge. Recovery ids 0/1 and 27/28 are accepted.
func VerifyLogin(challenge []byte, acct dex.Address, sig []byte) error {
	if len(challenge) != ChallengeSize {
		return fmt.Errorf("invalid challenge length %d", len(challenge))
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(LoginMessage(challenge)), sig)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != acct {
		return fmt.Errorf("signed by %s, not %s", signer, acct)
	}
	return nil
}
