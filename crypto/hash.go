package crypto

import (
	"math/big"

	fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"golang.org/x/crypto/sha3"
)

// SHA3256 hashes the concatenation of data with SHA3-256.
func SHA3256(data ...[]byte) [32]byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ToField reduces arbitrary bytes into a BN254 scalar field element,
// returned as canonical 32-byte big-endian.
func ToField(b []byte) [32]byte {
	var e fr.Element
	e.SetBytes(b)
	return e.Bytes()
}

// FieldFromBig reduces a big.Int into the scalar field.
func FieldFromBig(v *big.Int) [32]byte {
	var e fr.Element
	e.SetBigInt(v)
	return e.Bytes()
}

// Poseidon hashes field elements with the Poseidon2 permutation over BN254.
// Inputs must already be canonical field bytes (use ToField for raw data).
func Poseidon(inputs ...[32]byte) [32]byte {
	h := poseidon2.NewMerkleDamgardHasher()
	for _, in := range inputs {
		h.Write(in[:])
	}
	return ToField(h.Sum(nil))
}

// PoseidonDomain is Poseidon with a leading domain-separation element
// derived from tag.
func PoseidonDomain(tag string, inputs ...[32]byte) [32]byte {
	sep := SHA3256([]byte(tag))
	all := make([][32]byte, 0, len(inputs)+1)
	all = append(all, ToField(sep[:]))
	all = append(all, inputs...)
	return Poseidon(all...)
}

// Commit computes the MiMC commitment over the given field values. The same
// construction is enforced inside the circuits, so a host-side commitment
// verifies against an in-circuit one.
func Commit(values ...*big.Int) [32]byte {
	h := mimc.NewMiMC()
	for _, v := range values {
		b := FieldFromBig(v)
		h.Write(b[:])
	}
	return ToField(h.Sum(nil))
}
