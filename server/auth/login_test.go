// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package auth

import (
	"bytes"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestLogin(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	acct := crypto.PubkeyToAddress(key.PublicKey)
	challenge, err := NewChallenge()
	if err != nil {
		t.Fatalf("NewChallenge error: %v", err)
	}
	if other, _ := NewChallenge(); bytes.Equal(other, challenge) {
		t.Fatalf("repeated challenge")
	}

	sig, err := SignLogin(challenge, key)
	if err != nil {
		t.Fatalf("SignLogin error: %v", err)
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Fatalf("wrong recovery id %d", v)
	}
	if err = VerifyLogin(challenge, acct, sig); err != nil {
		t.Fatalf("VerifyLogin error: %v", err)
	}
	// The signature is not modified.
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Fatalf("signature modified")
	}
	// Raw recovery ids work too.
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	if err = VerifyLogin(challenge, acct, raw); err != nil {
		t.Fatalf("VerifyLogin error for raw recovery id: %v", err)
	}

	otherKey, _ := crypto.GenerateKey()
	tests := []struct {
		name      string
		challenge []byte
		sig       []byte
	}{
		{"other account", challenge, mustSign(t, challenge, otherKey)},
		{"other challenge", make([]byte, ChallengeSize), sig},
		{"short challenge", challenge[:16], sig},
		{"short signature", challenge, sig[:64]},
		{"garbage signature", challenge, bytes.Repeat([]byte{0xff}, crypto.SignatureLength)},
	}
	for _, tt := range tests {
		if err := VerifyLogin(tt.challenge, acct, tt.sig); err == nil {
			t.Fatalf("%s: no error", tt.name)
		}
	}
}

func mustSign(t *testing.T, challenge []byte, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	sig, err := SignLogin(challenge, key)
	if err != nil {
		t.Fatal(err)
	}
	return sig
}
