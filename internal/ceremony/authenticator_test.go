package ceremony

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// virtualAuthenticator produces genuine WebAuthn responses: CBOR attestation
// objects ("none" format) and ES256-signed assertions, so ceremony tests
// exercise the real verification path.
type virtualAuthenticator struct {
	t            *testing.T
	key          *ecdsa.PrivateKey
	credentialID []byte
}

func newVirtualAuthenticator(t *testing.T) *virtualAuthenticator {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	credentialID := make([]byte, 16)
	_, err = rand.Read(credentialID)
	require.NoError(t, err)

	return &virtualAuthenticator{t: t, key: key, credentialID: credentialID}
}

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttestedData = 0x40
)

type attestationObject struct {
	AuthData []byte         `cbor:"authData"`
	Fmt      string         `cbor:"fmt"`
	AttStmt  map[string]any `cbor:"attStmt"`
}

// registrationResponse builds the JSON body of a navigator.credentials.create
// result for the given challenge.
func (a *virtualAuthenticator) registrationResponse(challenge, origin, rpID string, counter uint32) []byte {
	a.t.Helper()

	clientData := a.clientDataJSON("webauthn.create", challenge, origin)
	authData := a.attestedAuthData(rpID, counter)

	attObj, err := cbor.Marshal(attestationObject{
		AuthData: authData,
		Fmt:      "none",
		AttStmt:  map[string]any{},
	})
	require.NoError(a.t, err)

	body, err := json.Marshal(map[string]any{
		"id":    b64(a.credentialID),
		"rawId": b64(a.credentialID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"attestationObject": b64(attObj),
		},
	})
	require.NoError(a.t, err)
	return body
}

// assertionResponse builds the JSON body of a navigator.credentials.get
// result, signed with the authenticator's key. userHandle may be nil for
// allow-list flows.
func (a *virtualAuthenticator) assertionResponse(challenge, origin, rpID string, counter uint32, userHandle []byte) []byte {
	a.t.Helper()

	clientData := a.clientDataJSON("webauthn.get", challenge, origin)
	authData := a.assertionAuthData(rpID, counter)

	clientDataHash := sha256.Sum256(clientData)
	signed := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash[:]...))
	signature, err := ecdsa.SignASN1(rand.Reader, a.key, signed[:])
	require.NoError(a.t, err)

	response := map[string]any{
		"clientDataJSON":    b64(clientData),
		"authenticatorData": b64(authData),
		"signature":         b64(signature),
	}
	if userHandle != nil {
		response["userHandle"] = b64(userHandle)
	}

	body, err := json.Marshal(map[string]any{
		"id":       b64(a.credentialID),
		"rawId":    b64(a.credentialID),
		"type":     "public-key",
		"response": response,
	})
	require.NoError(a.t, err)
	return body
}

func (a *virtualAuthenticator) clientDataJSON(ceremonyType, challenge, origin string) []byte {
	data, err := json.Marshal(map[string]string{
		"type":      ceremonyType,
		"challenge": challenge,
		"origin":    origin,
	})
	require.NoError(a.t, err)
	return data
}

// attestedAuthData lays out rpIdHash || flags || counter || AAGUID ||
// credIdLen || credId || COSE public key.
func (a *virtualAuthenticator) attestedAuthData(rpID string, counter uint32) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))

	authData := make([]byte, 0, 37+16+2+len(a.credentialID)+96)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, flagUserPresent|flagUserVerified|flagAttestedData)
	authData = binary.BigEndian.AppendUint32(authData, counter)

	var aaguid [16]byte
	authData = append(authData, aaguid[:]...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(a.credentialID)))
	authData = append(authData, a.credentialID...)
	authData = append(authData, a.cosePublicKey()...)
	return authData
}

func (a *virtualAuthenticator) assertionAuthData(rpID string, counter uint32) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))

	authData := make([]byte, 0, 37)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, flagUserPresent|flagUserVerified)
	authData = binary.BigEndian.AppendUint32(authData, counter)
	return authData
}

// cosePublicKey encodes the EC2 P-256 key in COSE form: kty=2, alg=ES256,
// crv=P-256.
func (a *virtualAuthenticator) cosePublicKey() []byte {
	x := a.key.PublicKey.X.FillBytes(make([]byte, 32))
	y := a.key.PublicKey.Y.FillBytes(make([]byte, 32))

	key, err := cbor.Marshal(map[int]any{
		1:  2,
		3:  -7,
		-1: 1,
		-2: x,
		-3: y,
	})
	require.NoError(a.t, err)
	return key
}

func b64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
