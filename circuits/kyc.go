package circuits

import (
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// KycVerificationID names the KYC circuit.
const KycVerificationID = "kyc_verification_v1"

// MaxKycLevel bounds the committed KYC level (1 basic, 2 enhanced,
// 3 accredited).
const MaxKycLevel = 3

// KycVerification proves that a committed KYC level meets a required
// minimum without revealing the actual level.
type KycVerification struct {
	Level frontend.Variable `gnark:",secret"`
	Salt  frontend.Variable `gnark:",secret"`

	RequiredLevel frontend.Variable `gnark:",public"`
	Commitment    frontend.Variable `gnark:",public"`
}

func (c *KycVerification) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Level, c.Salt)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	api.AssertIsLessOrEqual(c.Level, MaxKycLevel)
	api.AssertIsLessOrEqual(c.RequiredLevel, c.Level)
	return nil
}

// KycInputParser parses kyc_verification_v1 JSON inputs.
//
// Public: {"required_level": 1..3, "commitment": "0x…"}
// Private: {"level": 1..3, "salt": "0x…"}
type KycInputParser struct{}

type kycPublic struct {
	RequiredLevel *FieldValue `json:"required_level"`
	Commitment    *FieldValue `json:"commitment"`
}

type kycPrivate struct {
	Level *FieldValue `json:"level"`
	Salt  *FieldValue `json:"salt"`
}

func (KycInputParser) Parse(publicInput, privateInput []byte) (frontend.Circuit, error) {
	var pub kycPublic
	if err := json.Unmarshal(publicInput, &pub); err != nil {
		return nil, fmt.Errorf("public input: %w", err)
	}
	if err := requireFields("public", map[string]*FieldValue{
		"required_level": pub.RequiredLevel,
		"commitment":     pub.Commitment,
	}); err != nil {
		return nil, err
	}
	var priv kycPrivate
	if err := json.Unmarshal(privateInput, &priv); err != nil {
		return nil, fmt.Errorf("private input: %w", err)
	}
	return &KycVerification{
		Level:         priv.Level.BigInt(),
		Salt:          priv.Salt.BigInt(),
		RequiredLevel: pub.RequiredLevel.BigInt(),
		Commitment:    pub.Commitment.BigInt(),
	}, nil
}
