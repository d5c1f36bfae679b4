// Package registry implements agent registration, the status state
// machine, and capability-based agent search, following the
// transaction-then-event shape used throughout pkg/services in the
// teacher's session lifecycle code.
package registry

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// keyBits is fixed at 2048 per the registration protocol; there is no
// ecosystem package in this codebase's dependency surface for key
// generation (it is a pure crypto primitive, not a domain concern any
// third-party library here specializes in), so this one piece of the
// registry is built directly on crypto/rsa, crypto/x509 and
// encoding/pem from the standard library.
const keyBits = 2048

// agentKeyPair is the identity issued to a newly registered agent. The
// private key is returned to the caller for out-of-band delivery to
// the agent process and is never persisted; only PublicKeyPEM is
// written to the Agent record.
type agentKeyPair struct {
	PublicKeyPEM  string
	PrivateKeyPEM string
}

func generateAgentKeyPair() (*agentKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate agent key pair: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal agent public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	return &agentKeyPair{
		PublicKeyPEM:  string(pubPEM),
		PrivateKeyPEM: string(privPEM),
	}, nil
}
