package circuits

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fantasma-id/fantasma/crypto"
)

// Witness pairs the JSON inputs submitted for one proving job.
type Witness struct {
	CircuitID     string          `json:"circuit_id"`
	PublicInputs  json.RawMessage `json:"public_inputs"`
	PrivateInputs json.RawMessage `json:"private_inputs"`
}

// AgeWitness builds the full witness for age_verification_v1, computing
// the commitment the circuit enforces.
func AgeWitness(birthdate, currentDate, threshold int, salt *big.Int) (Witness, error) {
	if birthdate <= 0 || currentDate <= 0 {
		return Witness{}, fmt.Errorf("dates must be positive YYYYMMDD integers")
	}
	commitment := crypto.Commit(big.NewInt(int64(birthdate)), salt)
	pub, err := json.Marshal(map[string]any{
		"threshold":    threshold,
		"current_date": currentDate,
		"commitment":   HexField(commitment),
	})
	if err != nil {
		return Witness{}, err
	}
	priv, err := json.Marshal(map[string]any{
		"birthdate": birthdate,
		"salt":      "0x" + salt.Text(16),
	})
	if err != nil {
		return Witness{}, err
	}
	return Witness{CircuitID: AgeVerificationID, PublicInputs: pub, PrivateInputs: priv}, nil
}

// KycWitness builds the full witness for kyc_verification_v1.
func KycWitness(level, requiredLevel int, salt *big.Int) (Witness, error) {
	if level < 0 || level > MaxKycLevel {
		return Witness{}, fmt.Errorf("kyc level %d out of range", level)
	}
	commitment := crypto.Commit(big.NewInt(int64(level)), salt)
	pub, err := json.Marshal(map[string]any{
		"required_level": requiredLevel,
		"commitment":     HexField(commitment),
	})
	if err != nil {
		return Witness{}, err
	}
	priv, err := json.Marshal(map[string]any{
		"level": level,
		"salt":  "0x" + salt.Text(16),
	})
	if err != nil {
		return Witness{}, err
	}
	return Witness{CircuitID: KycVerificationID, PublicInputs: pub, PrivateInputs: priv}, nil
}

// CredentialWitness builds the full witness for credential_verification_v1.
func CredentialWitness(secret *big.Int, typeCode int, salt *big.Int) (Witness, error) {
	commitment := crypto.Commit(secret, big.NewInt(int64(typeCode)), salt)
	pub, err := json.Marshal(map[string]any{
		"type_code":  typeCode,
		"commitment": HexField(commitment),
	})
	if err != nil {
		return Witness{}, err
	}
	priv, err := json.Marshal(map[string]any{
		"credential_secret": "0x" + secret.Text(16),
		"salt":              "0x" + salt.Text(16),
	})
	if err != nil {
		return Witness{}, err
	}
	return Witness{CircuitID: CredentialVerificationID, PublicInputs: pub, PrivateInputs: priv}, nil
}
