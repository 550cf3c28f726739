package crypto

// Nullifier binds a credential use to a verifier domain for replay
// detection: PoseidonDomain("fantasma.nullifier.v1", credential_leaf,
// user_secret, Poseidon(domain), tag), i.e. Poseidon over those four
// elements preceded by a domain-separation element.
//
// A zero nonceTag makes the nullifier one-shot per (credential, domain);
// a request nonce makes it per-request. Only the wallet can compute a
// nullifier (it requires the user secret); the server stores the SHA3-256
// of the published value.
func Nullifier(credentialLeaf, userSecret [32]byte, rpDomain string, nonceTag [32]byte) [32]byte {
	domainSum := SHA3256([]byte(rpDomain))
	domainField := Poseidon(ToField(domainSum[:]))
	return PoseidonDomain("fantasma.nullifier.v1",
		credentialLeaf, userSecret, domainField, nonceTag)
}

// NullifierHash is the value the server persists and de-duplicates on.
func NullifierHash(nullifier [32]byte) [32]byte {
	return SHA3256(nullifier[:])
}
