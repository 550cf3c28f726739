package circuits

import (
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// AgeVerificationID names the age circuit in scope mappings, proof rows and
// discovery metadata.
const AgeVerificationID = "age_verification_v1"

// AgeVerification proves birthdate-based age without revealing the
// birthdate. Dates are YYYYMMDD integers; age >= threshold exactly when
// birthdate + threshold*10000 <= current_date.
type AgeVerification struct {
	Birthdate frontend.Variable `gnark:",secret"`
	Salt      frontend.Variable `gnark:",secret"`

	Threshold   frontend.Variable `gnark:",public"`
	CurrentDate frontend.Variable `gnark:",public"`
	Commitment  frontend.Variable `gnark:",public"`
}

func (c *AgeVerification) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Birthdate, c.Salt)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	shifted := api.Add(c.Birthdate, api.Mul(c.Threshold, 10000))
	api.AssertIsLessOrEqual(shifted, c.CurrentDate)
	return nil
}

// AgeInputParser parses age_verification_v1 JSON inputs.
//
// Public: {"threshold": N, "current_date": YYYYMMDD, "commitment": "0x…"}
// Private: {"birthdate": YYYYMMDD, "salt": "0x…"}
type AgeInputParser struct{}

type agePublic struct {
	Threshold   *FieldValue `json:"threshold"`
	CurrentDate *FieldValue `json:"current_date"`
	Commitment  *FieldValue `json:"commitment"`
}

type agePrivate struct {
	Birthdate *FieldValue `json:"birthdate"`
	Salt      *FieldValue `json:"salt"`
}

func (AgeInputParser) Parse(publicInput, privateInput []byte) (frontend.Circuit, error) {
	var pub agePublic
	if err := json.Unmarshal(publicInput, &pub); err != nil {
		return nil, fmt.Errorf("public input: %w", err)
	}
	if err := requireFields("public", map[string]*FieldValue{
		"threshold":    pub.Threshold,
		"current_date": pub.CurrentDate,
		"commitment":   pub.Commitment,
	}); err != nil {
		return nil, err
	}
	var priv agePrivate
	if err := json.Unmarshal(privateInput, &priv); err != nil {
		return nil, fmt.Errorf("private input: %w", err)
	}
	return &AgeVerification{
		Birthdate:   priv.Birthdate.BigInt(),
		Salt:        priv.Salt.BigInt(),
		Threshold:   pub.Threshold.BigInt(),
		CurrentDate: pub.CurrentDate.BigInt(),
		Commitment:  pub.Commitment.BigInt(),
	}, nil
}
