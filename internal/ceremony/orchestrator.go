// Package ceremony drives WebAuthn registration and authentication
// ceremonies: challenge issuance, response validation, and the signature
// counter policy that detects cloned authenticators.
package ceremony

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/polyglossa/authcore/internal/challenge"
	"github.com/polyglossa/authcore/internal/models"
	"github.com/polyglossa/authcore/internal/storage"
)

// Config is the relying-party identity every verification step is checked
// against. A response whose origin or RP ID disagrees always fails the
// ceremony, regardless of signature validity.
type Config struct {
	RPID         string
	RPName       string
	RPOrigins    []string
	ChallengeTTL time.Duration
}

// Orchestrator runs both two-step ceremony protocols. It owns no transport
// concerns; callers hand it raw response bodies and the challenge value the
// client echoes back.
type Orchestrator struct {
	cfg         Config
	web         *webauthn.WebAuthn
	challenges  *challenge.Manager
	credentials storage.CredentialStore
	users       storage.UserDirectory
	logger      *slog.Logger
	now         func() time.Time
}

func New(cfg Config, challenges *challenge.Manager, credentials storage.CredentialStore, users storage.UserDirectory, logger *slog.Logger) (*Orchestrator, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create WebAuthn instance: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:         cfg,
		web:         web,
		challenges:  challenges,
		credentials: credentials,
		users:       users,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// BeginRegistration issues a registration challenge and returns the
// credential creation options for the client. The user's existing
// credentials populate the exclude list so the same authenticator cannot be
// registered twice.
func (o *Orchestrator) BeginRegistration(ctx context.Context, user *models.User) (*protocol.CredentialCreation, error) {
	ch, err := o.challenges.Issue(ctx, models.PurposeRegistration, user.ID)
	if err != nil {
		return nil, err
	}

	existing, err := o.credentials.FindAllForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing credentials: %w", err)
	}

	return &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: protocol.URLEncodedBase64(ch.Value),
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{Name: o.cfg.RPName},
				ID:               o.cfg.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{Name: user.Username},
				DisplayName:      displayName(user),
				ID:               protocol.URLEncodedBase64(user.ID),
			},
			Parameters: []protocol.CredentialParameter{
				{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
				{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
			},
			Timeout:               int(o.challengeTTL().Milliseconds()),
			CredentialExcludeList: descriptors(existing),
			AuthenticatorSelection: protocol.AuthenticatorSelection{
				ResidentKey:      protocol.ResidentKeyRequirementPreferred,
				UserVerification: protocol.VerificationPreferred,
			},
		},
	}, nil
}

// FinishRegistration consumes the registration challenge, validates the
// attestation response, and on success inserts the new credential. The
// challenge is burned before any verification, so a failed attempt is never
// retryable with the same challenge.
func (o *Orchestrator) FinishRegistration(ctx context.Context, user *models.User, challengeValue string, response []byte) (*models.WebAuthnCredential, error) {
	ch, err := o.consume(ctx, challengeValue, models.PurposeRegistration)
	if err != nil {
		return nil, err
	}
	if ch.UserID != user.ID {
		return nil, challenge.ErrUnknown
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	if err := o.checkClientData(&parsed.Response.CollectedClientData, ch); err != nil {
		return nil, err
	}
	if err := o.checkRPIDHash(parsed.Response.AttestationObject.AuthData.RPIDHash); err != nil {
		return nil, err
	}

	sessionData := webauthn.SessionData{
		Challenge:        ch.Encoded(),
		UserID:           []byte(user.ID),
		Expires:          ch.ExpiresAt,
		UserVerification: protocol.VerificationPreferred,
	}
	verified, err := o.web.CreateCredential(ceremonyUser{user: user}, sessionData, parsed)
	if err != nil {
		o.logger.Warn("registration verification failed", "user", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	policy := models.StrictMonotonic
	if verified.Authenticator.SignCount == 0 {
		policy = models.CounterlessDevice
	}

	record := &models.WebAuthnCredential{
		ID:              verified.ID,
		PublicKey:       verified.PublicKey,
		AttestationType: verified.AttestationType,
		SignCount:       verified.Authenticator.SignCount,
		CounterPolicy:   policy,
		Flags: models.CredentialFlags{
			UserPresent:    verified.Flags.UserPresent,
			UserVerified:   verified.Flags.UserVerified,
			BackupEligible: verified.Flags.BackupEligible,
			BackupState:    verified.Flags.BackupState,
		},
		UserID:    user.ID,
		CreatedAt: o.now(),
	}
	if err := o.credentials.Insert(ctx, record); err != nil {
		return nil, err
	}

	o.logger.Info("credential registered", "user", user.ID, "credential", record.EncodedID(), "policy", policy)
	return record, nil
}

// BeginAuthentication issues an authentication challenge. With a user ID the
// options carry an allow list of that user's credentials; without one the
// ceremony is discoverable and the authenticator selects the credential.
func (o *Orchestrator) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	ch, err := o.challenges.Issue(ctx, models.PurposeAuthentication, userID)
	if err != nil {
		return nil, err
	}

	var allowed []protocol.CredentialDescriptor
	if userID != "" {
		credentials, err := o.credentials.FindAllForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		allowed = descriptors(credentials)
	}

	return &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(ch.Value),
			Timeout:            int(o.challengeTTL().Milliseconds()),
			RelyingPartyID:     o.cfg.RPID,
			AllowedCredentials: allowed,
			UserVerification:   protocol.VerificationPreferred,
		},
	}, nil
}

// FinishAuthentication consumes the authentication challenge, verifies the
// assertion, applies the credential's counter policy, and returns the owning
// user ID. A counter that fails to advance rejects the attempt with
// ErrCounterRegression and leaves the stored counter untouched.
func (o *Orchestrator) FinishAuthentication(ctx context.Context, challengeValue string, response []byte) (string, error) {
	ch, err := o.consume(ctx, challengeValue, models.PurposeAuthentication)
	if err != nil {
		return "", err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	if err := o.checkClientData(&parsed.Response.CollectedClientData, ch); err != nil {
		return "", err
	}
	if err := o.checkRPIDHash(parsed.Response.AuthenticatorData.RPIDHash); err != nil {
		return "", err
	}

	record, err := o.credentials.FindByCredentialID(ctx, parsed.RawID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up credential: %w", err)
	}
	// An allow-list challenge only accepts credentials of its subject.
	if ch.UserID != "" && record.UserID != ch.UserID {
		return "", ErrCredentialNotFound
	}

	owner, err := o.users.FindByID(ctx, record.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to look up credential owner: %w", err)
	}

	if err := o.verifyAssertion(owner, record, ch, parsed); err != nil {
		o.logger.Warn("authentication verification failed", "credential", record.EncodedID(), "error", err)
		return "", err
	}

	if err := o.applyCounterPolicy(ctx, record, parsed.Response.AuthenticatorData.Counter); err != nil {
		return "", err
	}

	return record.UserID, nil
}

func (o *Orchestrator) verifyAssertion(owner *models.User, record *models.WebAuthnCredential, ch *models.Challenge, parsed *protocol.ParsedCredentialAssertionData) error {
	user := ceremonyUser{user: owner, credentials: []webauthn.Credential{record.WebAuthn()}}
	sessionData := webauthn.SessionData{
		Challenge:        ch.Encoded(),
		Expires:          ch.ExpiresAt,
		UserVerification: protocol.VerificationPreferred,
	}

	if ch.UserID != "" {
		sessionData.UserID = []byte(owner.ID)
		sessionData.AllowedCredentialIDs = [][]byte{record.ID}
		if _, err := o.web.ValidateLogin(user, sessionData, parsed); err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
		}
		return nil
	}

	// Discoverable flow: the authenticator chose the credential; the handler
	// just confirms it resolves to the owner we already looked up.
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		if !bytes.Equal(rawID, record.ID) {
			return nil, fmt.Errorf("unexpected credential id")
		}
		return user, nil
	}
	if _, err := o.web.ValidateDiscoverableLogin(handler, sessionData, parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

// applyCounterPolicy enforces the per-credential counter rule and advances
// the stored counter through the registry's compare-and-set. Losing the CAS
// race is reported as a regression: some concurrent assertion already
// claimed the advance.
func (o *Orchestrator) applyCounterPolicy(ctx context.Context, record *models.WebAuthnCredential, counter uint32) error {
	if record.CounterPolicy == models.CounterlessDevice && counter == 0 && record.SignCount == 0 {
		return nil
	}
	if counter <= record.SignCount {
		o.logger.Warn("signature counter regression, possible cloned authenticator",
			"credential", record.EncodedID(), "stored", record.SignCount, "got", counter)
		return ErrCounterRegression
	}
	if err := o.credentials.UpdateCounter(ctx, record.ID, counter); err != nil {
		if errors.Is(err, storage.ErrStaleCounter) {
			return ErrCounterRegression
		}
		return fmt.Errorf("failed to update counter: %w", err)
	}
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, challengeValue string, purpose models.Purpose) (*models.Challenge, error) {
	value, err := base64.RawURLEncoding.DecodeString(challengeValue)
	if err != nil {
		return nil, challenge.ErrUnknown
	}
	return o.challenges.Consume(ctx, value, purpose)
}

// checkClientData verifies the challenge echo and origin before any
// cryptographic work. The consumed challenge already proves freshness; the
// echo check proves the response answers that exact challenge.
func (o *Orchestrator) checkClientData(clientData *protocol.CollectedClientData, ch *models.Challenge) error {
	if subtle.ConstantTimeCompare([]byte(clientData.Challenge), []byte(ch.Encoded())) != 1 {
		return challenge.ErrUnknown
	}
	for _, origin := range o.cfg.RPOrigins {
		if clientData.Origin == origin {
			return nil
		}
	}
	return fmt.Errorf("%w: got %q", ErrOriginMismatch, clientData.Origin)
}

func (o *Orchestrator) checkRPIDHash(rpIDHash []byte) error {
	expected := sha256.Sum256([]byte(o.cfg.RPID))
	if subtle.ConstantTimeCompare(rpIDHash, expected[:]) != 1 {
		return ErrRPIDMismatch
	}
	return nil
}

func (o *Orchestrator) challengeTTL() time.Duration {
	if o.cfg.ChallengeTTL > 0 {
		return o.cfg.ChallengeTTL
	}
	return challenge.DefaultTTL
}

func descriptors(credentials []models.WebAuthnCredential) []protocol.CredentialDescriptor {
	list := make([]protocol.CredentialDescriptor, 0, len(credentials))
	for _, credential := range credentials {
		list = append(list, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: protocol.URLEncodedBase64(credential.ID),
		})
	}
	return list
}

func displayName(user *models.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Username
}

// ceremonyUser adapts a directory user to the webauthn.User interface.
type ceremonyUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func (u ceremonyUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u ceremonyUser) WebAuthnName() string { return u.user.Username }

func (u ceremonyUser) WebAuthnDisplayName() string { return displayName(u.user) }

func (u ceremonyUser) WebAuthnIcon() string { return "" }

func (u ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
