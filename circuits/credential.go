package circuits

import (
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CredentialVerificationID names the credential possession circuit.
const CredentialVerificationID = "credential_verification_v1"

// Credential type codes bound into commitments. Zero is reserved for
// untyped credentials.
const (
	CredentialTypeDegree     = 1
	CredentialTypeLicense    = 2
	CredentialTypeMembership = 3
	CredentialTypeIdentity   = 4
)

// CredentialTypeCode maps a credential type name to its public input code.
func CredentialTypeCode(name string) (int, bool) {
	switch name {
	case "":
		return 0, true
	case "degree":
		return CredentialTypeDegree, true
	case "license":
		return CredentialTypeLicense, true
	case "membership":
		return CredentialTypeMembership, true
	case "identity":
		return CredentialTypeIdentity, true
	}
	return 0, false
}

// CredentialVerification proves knowledge of the secret behind a typed
// credential commitment.
type CredentialVerification struct {
	CredentialSecret frontend.Variable `gnark:",secret"`
	Salt             frontend.Variable `gnark:",secret"`

	TypeCode   frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`
}

func (c *CredentialVerification) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.CredentialSecret, c.TypeCode, c.Salt)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}

// CredentialInputParser parses credential_verification_v1 JSON inputs.
//
// Public: {"type_code": 0..4, "commitment": "0x…"}
// Private: {"credential_secret": "0x…", "salt": "0x…"}
type CredentialInputParser struct{}

type credentialPublic struct {
	TypeCode   *FieldValue `json:"type_code"`
	Commitment *FieldValue `json:"commitment"`
}

type credentialPrivate struct {
	CredentialSecret *FieldValue `json:"credential_secret"`
	Salt             *FieldValue `json:"salt"`
}

func (CredentialInputParser) Parse(publicInput, privateInput []byte) (frontend.Circuit, error) {
	var pub credentialPublic
	if err := json.Unmarshal(publicInput, &pub); err != nil {
		return nil, fmt.Errorf("public input: %w", err)
	}
	if err := requireFields("public", map[string]*FieldValue{
		"type_code":  pub.TypeCode,
		"commitment": pub.Commitment,
	}); err != nil {
		return nil, err
	}
	var priv credentialPrivate
	if err := json.Unmarshal(privateInput, &priv); err != nil {
		return nil, fmt.Errorf("private input: %w", err)
	}
	return &CredentialVerification{
		CredentialSecret: priv.CredentialSecret.BigInt(),
		Salt:             priv.Salt.BigInt(),
		TypeCode:         pub.TypeCode.BigInt(),
		Commitment:       pub.Commitment.BigInt(),
	}, nil
}
