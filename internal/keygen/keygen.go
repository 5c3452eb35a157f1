// Package keygen generates the SSH key pairs imported for instance access.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"golang.org/x/crypto/ssh"
)

// KeyPair holds the private and public keys.
type KeyPair struct {
	// PrivateKey is PEM-encoded PKCS#8.
	PrivateKey []byte
	// PublicKey is in authorized_keys format, as the import API expects.
	PublicKey []byte
}

// GenerateED25519KeyPair generates a new ed25519 key pair.
func GenerateED25519KeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privDER,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PrivateKey: privateKeyPEM,
		PublicKey:  ssh.MarshalAuthorizedKey(sshPub),
	}, nil
}
