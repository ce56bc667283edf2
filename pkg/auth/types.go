package auth

import "errors"

// Unauthorized is the single public outcome of every failed verification
const Unauthorized = "Unauthorized"

// Kind identifies the trust domain of a verified identity
type Kind string

const (
	KindUser   Kind = "user"
	KindClient Kind = "client"
)

// Identity is a verified caller
type Identity struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Tables locates the credential records in the store
type Tables struct {
	Keyspace        string
	UserAuthTable   string
	ClientInfoTable string

	// UserIDColumn holds the user id on user_auth rows
	UserIDColumn string
	// ClientIDColumn is the client id on client_info rows
	ClientIDColumn string
	// MasterKeyColumn is the client token on client_info rows
	MasterKeyColumn string
}

// DefaultTables returns the standard credential table layout
func DefaultTables() Tables {
	return Tables{
		Keyspace:        "sunbird",
		UserAuthTable:   "user_auth",
		ClientInfoTable: "client_info",
		UserIDColumn:    "user_id",
		ClientIDColumn:  "id",
		MasterKeyColumn: "master_key",
	}
}

// Verification errors. They never leave the package's public verify
// methods, which collapse all of them to Unauthorized.
var (
	ErrEmptyCredentials = errors.New("empty credentials")
	ErrNoMatch          = errors.New("no matching record")
	ErrLookupFailed     = errors.New("credential lookup failed")
	ErrMalformedRecord  = errors.New("malformed credential record")
)

// outcome maps a verification error to a metrics label
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmptyCredentials):
		return "empty"
	case errors.Is(err, ErrNoMatch):
		return "no_match"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	default:
		return "lookup_failed"
	}
}
