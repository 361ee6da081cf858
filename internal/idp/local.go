package idp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// LocalProviderConfig configures a LocalProvider.
type LocalProviderConfig struct {
	// MaxFailedAttempts is the number of consecutive failed sign-ins
	// before the account is locked. Defaults to 5.
	MaxFailedAttempts int
}

// LocalProvider is an in-process Provider implementation.
//
// It keeps identities in memory, hashes passwords with bcrypt, and mints
// HS256 session tokens through a TokenSigner. It holds at most one
// current session per process, matching the one-active-session model of
// the console.
type LocalProvider struct {
	mu sync.Mutex

	signer *TokenSigner

	maxFailedAttempts int

	usersByEmail      map[string]*userRecord
	usersByID         map[string]*userRecord
	sessionsByRefresh map[string]string // refresh token -> user ID
	resetTokens       map[string]string // email -> reset token

	current *Session

	handlers  map[int]func(Event)
	nextSubID int

	// propagationLag simulates identity backends where a metadata update
	// is not visible to the first N token refreshes.
	propagationLag int
}

type userRecord struct {
	id           string
	email        string
	displayName  string
	passwordHash []byte

	metadata map[string]interface{}

	// staleMetadata is served to refreshes while lagRemaining > 0.
	staleMetadata map[string]interface{}
	lagRemaining  int

	failedAttempts int
	locked         bool
}

// NewLocalProvider creates a LocalProvider minting tokens via signer.
func NewLocalProvider(signer *TokenSigner, cfg LocalProviderConfig) *LocalProvider {
	maxAttempts := cfg.MaxFailedAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &LocalProvider{
		signer:            signer,
		maxFailedAttempts: maxAttempts,
		usersByEmail:      make(map[string]*userRecord),
		usersByID:         make(map[string]*userRecord),
		sessionsByRefresh: make(map[string]string),
		resetTokens:       make(map[string]string),
		handlers:          make(map[int]func(Event)),
	}
}

// SignUp registers a new identity and signs it in.
func (p *LocalProvider) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if email == "" || password == "" {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderFailure, "failed to hash password", err)
	}

	p.mu.Lock()
	if _, exists := p.usersByEmail[email]; exists {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrCodeEmailTaken, "email is already registered")
	}

	user := &userRecord{
		id:           uuid.NewString(),
		email:        email,
		displayName:  displayName,
		passwordHash: hash,
		metadata:     make(map[string]interface{}),
	}
	p.usersByEmail[email] = user
	p.usersByID[user.id] = user

	session, err := p.mintSessionLocked(user, user.metadata)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.emit(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// SignInWithPassword authenticates email/password credentials.
func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	p.mu.Lock()

	user, exists := p.usersByEmail[email]
	if !exists {
		p.mu.Unlock()
		return nil, errors.NewInvalidCredentialsError()
	}

	if user.locked {
		p.mu.Unlock()
		return nil, errors.NewAccountLockedError(email)
	}

	if err := bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)); err != nil {
		user.failedAttempts++
		if user.failedAttempts >= p.maxFailedAttempts {
			user.locked = true
			p.mu.Unlock()
			return nil, errors.NewAccountLockedError(email)
		}
		p.mu.Unlock()
		return nil, errors.NewInvalidCredentialsError()
	}

	user.failedAttempts = 0

	session, err := p.mintSessionLocked(user, user.metadata)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.emit(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// SignOut terminates the session holding the given access token.
func (p *LocalProvider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.signer.Validate(accessToken)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderFailure, "sign-out token rejected", err)
	}

	p.mu.Lock()
	for refresh, userID := range p.sessionsByRefresh {
		if userID == claims.UserID {
			delete(p.sessionsByRefresh, refresh)
		}
	}
	p.current = nil
	p.mu.Unlock()

	p.emit(Event{Type: EventSignedOut})
	return nil
}

// CurrentSession returns the current session, or (nil, nil) when absent
// or expired.
func (p *LocalProvider) CurrentSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || p.current.IsExpired() {
		return nil, nil
	}
	session := *p.current
	return &session, nil
}

// RefreshSession exchanges a refresh token for a freshly signed session.
func (p *LocalProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	p.mu.Lock()

	userID, exists := p.sessionsByRefresh[refreshToken]
	if !exists {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrCodeSessionMissing, "unknown refresh token")
	}
	user := p.usersByID[userID]

	metadata := user.metadata
	if user.lagRemaining > 0 {
		metadata = user.staleMetadata
		user.lagRemaining--
	}

	session, err := p.mintSessionLocked(user, metadata)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.emit(Event{Type: EventTokenRefreshed, Session: session})
	return session, nil
}

// UpdateIdentityMetadata merges the given keys into identity metadata.
func (p *LocalProvider) UpdateIdentityMetadata(ctx context.Context, accessToken string, metadata map[string]interface{}) (*Identity, error) {
	claims, err := p.signer.Validate(accessToken)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderFailure, "metadata update token rejected", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	user, exists := p.usersByID[claims.UserID]
	if !exists {
		return nil, errors.New(errors.ErrCodeSessionMissing, "unknown identity")
	}

	if p.propagationLag > 0 {
		user.staleMetadata = copyMetadata(user.metadata)
		user.lagRemaining = p.propagationLag
	}

	if user.metadata == nil {
		user.metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		user.metadata[k] = v
	}

	identity := user.identity()
	return &identity, nil
}

// UpdateProfile changes the display name of the token's identity.
func (p *LocalProvider) UpdateProfile(ctx context.Context, accessToken, displayName string) (*Identity, error) {
	claims, err := p.signer.Validate(accessToken)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderFailure, "profile update token rejected", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	user, exists := p.usersByID[claims.UserID]
	if !exists {
		return nil, errors.New(errors.ErrCodeSessionMissing, "unknown identity")
	}

	user.displayName = displayName
	if p.current != nil && p.current.Identity.ID == user.id {
		p.current.Identity.DisplayName = displayName
	}

	identity := user.identity()
	return &identity, nil
}

// ResetPassword starts a password reset and returns the reset token.
func (p *LocalProvider) ResetPassword(ctx context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.usersByEmail[email]; !exists {
		return "", errors.New(errors.ErrCodeInvalidCredentials, "unknown email address")
	}

	token := uuid.NewString()
	p.resetTokens[email] = token
	return token, nil
}

// UpdatePassword sets a new password using a reset token. A successful
// update clears any lockout and invalidates the reset token.
func (p *LocalProvider) UpdatePassword(ctx context.Context, email, resetToken, newPassword string) error {
	if newPassword == "" {
		return errors.New(errors.ErrCodeInvalidCredentials, "new password is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	user, exists := p.usersByEmail[email]
	if !exists {
		return errors.New(errors.ErrCodeInvalidCredentials, "unknown email address")
	}
	if stored, ok := p.resetTokens[email]; !ok || stored != resetToken {
		return errors.New(errors.ErrCodeInvalidCredentials, "invalid password reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderFailure, "failed to hash password", err)
	}

	user.passwordHash = hash
	user.failedAttempts = 0
	user.locked = false
	delete(p.resetTokens, email)
	return nil
}

// Subscribe registers an event handler; the returned function removes it.
func (p *LocalProvider) Subscribe(handler func(Event)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// RevokeAllSessions revokes every session of the user, as an external
// administrator or another device would. Emits EventSignedOut.
func (p *LocalProvider) RevokeAllSessions(userID string) {
	p.mu.Lock()
	for refresh, id := range p.sessionsByRefresh {
		if id == userID {
			delete(p.sessionsByRefresh, refresh)
		}
	}
	if p.current != nil && p.current.Identity.ID == userID {
		p.current = nil
	}
	p.mu.Unlock()

	p.emit(Event{Type: EventSignedOut})
}

// SetMetadataPropagationLag makes the next metadata update invisible to
// the first n token refreshes, simulating identity backends with slow
// claim propagation.
func (p *LocalProvider) SetMetadataPropagationLag(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.propagationLag = n
}

// mintSessionLocked mints a session for user with the given metadata
// snapshot. Caller holds p.mu.
func (p *LocalProvider) mintSessionLocked(user *userRecord, metadata map[string]interface{}) (*Session, error) {
	identity := Identity{
		ID:          user.id,
		Email:       user.email,
		DisplayName: user.displayName,
		Metadata:    copyMetadata(metadata),
	}

	now := time.Now()
	accessToken, expiresAt, err := p.signer.Mint(identity, now)
	if err != nil {
		return nil, err
	}

	refreshToken := uuid.NewString()
	p.sessionsByRefresh[refreshToken] = user.id

	session := &Session{
		Identity:     identity,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		ExpiresIn:    int64(p.signer.TokenTTL().Seconds()),
	}

	current := *session
	p.current = &current
	return session, nil
}

func (u *userRecord) identity() Identity {
	return Identity{
		ID:          u.id,
		Email:       u.email,
		DisplayName: u.displayName,
		Metadata:    copyMetadata(u.metadata),
	}
}

// emit dispatches an event to all subscribers outside the provider lock.
func (p *LocalProvider) emit(event Event) {
	p.mu.Lock()
	handlers := make([]func(Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
