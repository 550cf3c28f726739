package circuits

import (
	"github.com/consensys/gnark/frontend"
)

// Info describes a registered circuit.
type Info struct {
	ID          string
	Version     uint
	Description string
	Template    frontend.Circuit
	Parser      InputParser
}

// List holds every circuit the server can prove and verify, keyed by
// circuit identifier.
var List = map[string]Info{
	AgeVerificationID: {
		ID:          AgeVerificationID,
		Version:     1,
		Description: "Proves age >= threshold without revealing the birthdate",
		Template:    &AgeVerification{},
		Parser:      AgeInputParser{},
	},
	KycVerificationID: {
		ID:          KycVerificationID,
		Version:     1,
		Description: "Proves KYC level >= required level without revealing the level",
		Template:    &KycVerification{},
		Parser:      KycInputParser{},
	},
	CredentialVerificationID: {
		ID:          CredentialVerificationID,
		Version:     1,
		Description: "Proves possession of a typed credential without revealing it",
		Template:    &CredentialVerification{},
		Parser:      CredentialInputParser{},
	},
}

// Known reports whether id names a registered circuit.
func Known(id string) bool {
	_, ok := List[id]
	return ok
}
