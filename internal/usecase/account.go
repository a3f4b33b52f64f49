package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/auth"
	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/metrics"
	"github.com/example/fan-verify/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AccountStore defines the user persistence needed by the account flows.
type AccountStore interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindUserByID(ctx context.Context, id string) (*repository.User, error)
	FindUserByEmail(ctx context.Context, email string) (*repository.User, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// GoogleTokenVerifier validates Google Sign-In ID tokens.
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*auth.GoogleIdentity, error)
}

// Session is a signed-in user and their token.
type Session struct {
	User      *repository.User
	Token     string
	ExpiresAt time.Time
}

// RegisterInput carries the fields of a local sign-up.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// AccountUseCase implements registration, login and session lookups.
type AccountUseCase struct {
	store   AccountStore
	tokens  TokenIssuer
	google  GoogleTokenVerifier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAccountUseCase wires the account flows. google may be nil when Google
// Sign-In is not configured.
func NewAccountUseCase(store AccountStore, tokens TokenIssuer, google GoogleTokenVerifier, m *metrics.Metrics, logger *zap.Logger) *AccountUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountUseCase{
		store:   store,
		tokens:  tokens,
		google:  google,
		metrics: m,
		logger:  logger.Named("account_usecase"),
		now:     time.Now,
	}
}

// Register creates a local account and signs it in.
func (uc *AccountUseCase) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if name == "" || email == "" || in.Password == "" {
		return nil, apperr.New(apperr.KindValidation, "Preencha todos os campos")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperr.New(apperr.KindValidation, "Email inválido")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, apperr.New(apperr.KindValidation, "Senha deve ter pelo menos 6 caracteres")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "Erro ao registrar usuário")
	}

	now := uc.now().UTC()
	user := &repository.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
		Provider:     "local",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperr.Wrap(err, apperr.KindValidation, "Email já cadastrado")
		}
		uc.logError(ctx, "usecase.register", "failed to create user", err)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao registrar usuário")
	}
	uc.metrics.IncrementUsersCreated(user.Provider)

	return uc.session(user)
}

// Login checks email and password.
func (uc *AccountUseCase) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.New(apperr.KindValidation, "Email e senha são obrigatórios")
	}

	user, err := uc.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindAuth, "Credenciais inválidas")
		}
		uc.logError(ctx, "usecase.login", "failed to load user", err)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao fazer login")
	}
	if user.PasswordHash == "" || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.New(apperr.KindAuth, "Credenciais inválidas")
	}

	return uc.session(user)
}

// GoogleLogin signs in with a Google ID token, creating the account on first use.
// An existing local account with the same email is reused.
func (uc *AccountUseCase) GoogleLogin(ctx context.Context, idToken string) (*Session, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, apperr.New(apperr.KindValidation, "ID token é obrigatório")
	}
	if uc.google == nil {
		return nil, apperr.New(apperr.KindAuth, "Token Google inválido")
	}

	identity, err := uc.google.Verify(ctx, idToken)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindAuth, "Token Google inválido")
	}

	// Link to an existing account by email only when Google verified the address.
	user, err := uc.store.FindUserByID(ctx, identity.Subject)
	if errors.Is(err, repository.ErrNotFound) && identity.EmailVerified {
		user, err = uc.store.FindUserByEmail(ctx, strings.ToLower(identity.Email))
	}
	switch {
	case err == nil:
		return uc.session(user)
	case !errors.Is(err, repository.ErrNotFound):
		uc.logError(ctx, "usecase.google_login", "failed to load user", err)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao autenticar com Google")
	}

	name := identity.Name
	if name == "" {
		name = identity.Email
	}
	now := uc.now().UTC()
	user = &repository.User{
		ID:        identity.Subject,
		Name:      name,
		Email:     strings.ToLower(identity.Email),
		Role:      "user",
		Provider:  "google",
		Picture:   identity.Picture,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperr.Wrap(err, apperr.KindConflict, "Email já cadastrado")
		}
		uc.logError(ctx, "usecase.google_login", "failed to create user", err)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao autenticar com Google")
	}
	uc.metrics.IncrementUsersCreated(user.Provider)

	return uc.session(user)
}

// Me returns the account of the session user.
func (uc *AccountUseCase) Me(ctx context.Context, userID string) (*repository.User, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindAuth, msgNoUserContext)
	}
	user, err := uc.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(err, apperr.KindNotFound, "Usuário não encontrado")
		}
		uc.logError(ctx, "usecase.me", "failed to load user", err)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao obter usuário atual")
	}
	return user, nil
}

// UserExists backs the auth middleware check for deleted accounts.
func (uc *AccountUseCase) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := uc.store.FindUserByID(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (uc *AccountUseCase) session(user *repository.User) (*Session, error) {
	token, expiresAt, err := uc.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to issue session token")
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (uc *AccountUseCase) logError(ctx context.Context, operation, msg string, err error) {
	logging.WithOperation(uc.logger, operation, logging.RequestIDFromContext(ctx)).Error(msg, logging.ErrorFields(err)...)
}
