package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkrupp/userstore/internal/domain"
	"github.com/mkrupp/userstore/internal/infra/logging"
	"github.com/mkrupp/userstore/internal/infra/metrics"
)

var errNilUser = fmt.Errorf("%w: user is required", domain.ErrInvalidInput)

// Store manages user records in one collection and enforces username uniqueness.
// A system store addresses the shared identity collection: it defaults auth data to active
// and notifies its ReloadNotifier after every committed change. A tenant store does neither.
type Store struct {
	coll        Collection
	scope       string
	notifier    ReloadNotifier
	authDefault func(authData map[string]any)
	log         logging.Logger
}

// New creates a Store over coll. The mode is fixed for the Store's lifetime.
// notifier is only used when system is true and may be nil otherwise.
func New(coll Collection, system bool, notifier ReloadNotifier) *Store {
	store := &Store{
		coll:        coll,
		scope:       "tenant",
		notifier:    NopNotifier{},
		authDefault: func(map[string]any) {},
	}

	if system {
		store.scope = "system"
		store.authDefault = defaultActive

		if notifier != nil {
			store.notifier = notifier
		}
	}

	store.log = logging.GetLogger("repo.user.user_store").With(
		logging.Group("store", "scope", store.scope, "collection", coll.Name()),
	)

	return store
}

// NewStore opens the collection selected by scope in db and creates a Store over it.
// Returns an error if the scope is invalid or the collection cannot be opened.
func NewStore(ctx context.Context, db Database, scope Scope, notifier ReloadNotifier) (*Store, error) {
	coll, err := scope.Open(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("open scope %s: %w", scope, err)
	}

	return New(coll, scope.System, notifier), nil
}

func defaultActive(authData map[string]any) {
	if _, ok := authData[domain.AuthDataActive]; !ok {
		authData[domain.AuthDataActive] = true
	}
}

// Collection returns the collection the store operates on.
func (s *Store) Collection() Collection {
	return s.coll
}

// Resolve looks up a user by exact username.
// Returns nil and no error if no user has that username.
func (s *Store) Resolve(ctx context.Context, username string) (_ *domain.User, err error) {
	defer s.observe(ctx, "resolve", time.Now(), &err)

	user, ok, err := s.coll.FirstByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", username, err)
	}

	if !ok {
		return nil, nil
	}

	return user, nil
}

// List returns the usernames of all stored users, skipping empty ones.
// The order is the order the collection yields.
func (s *Store) List(ctx context.Context) (_ []string, err error) {
	defer s.observe(ctx, "list", time.Now(), &err)

	users, err := s.coll.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	usernames := make([]string, 0, len(users))

	for _, user := range users {
		if user == nil || user.Username == "" {
			continue
		}

		usernames = append(usernames, user.Username)
	}

	return usernames, nil
}

// Create stores a new user. userData and authData may be nil.
// The username check and the insert run in one transaction, so concurrent creates of
// the same username yield exactly one user.
// Returns ErrInvalidInput if username is empty or a payload is not a JSON document,
// or a UsernameNotAvailableError if the username is taken.
func (s *Store) Create(
	ctx context.Context,
	username string,
	userData map[string]any,
	authData map[string]any,
) (_ *domain.User, err error) {
	log := s.log.With(logging.Group("user", "username", username))

	defer s.observe(ctx, "create", time.Now(), &err)
	defer func() { s.logResult(ctx, log, "create user", err) }()

	input, err := domain.ValidateUserInput(username, userData, authData)
	if err != nil {
		return nil, err
	}

	s.authDefault(input.AuthData)

	var created *domain.User

	err = s.coll.Transaction(ctx, func(tx Collection) error {
		if _, taken, err := tx.FirstByUsername(ctx, input.Username); err != nil {
			return fmt.Errorf("check username: %w", err)
		} else if taken {
			return &domain.UsernameNotAvailableError{Username: input.Username}
		}

		user := &domain.User{
			Username: input.Username,
			AuthData: input.AuthData,
			UserData: input.UserData,
		}

		id, err := tx.Insert(ctx, user)
		if err != nil {
			if errors.Is(err, ErrUniqueViolation) {
				return errors.Join(&domain.UsernameNotAvailableError{Username: input.Username}, err)
			}

			return fmt.Errorf("insert: %w", err)
		}

		if created, err = tx.ByID(ctx, id); err != nil {
			return fmt.Errorf("read back %s: %w", id, err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.reload(ctx, log)

	return created, nil
}

// Get returns the user with the given id.
// Returns a UserNotFoundError if no such user exists.
func (s *Store) Get(ctx context.Context, id string) (_ *domain.User, err error) {
	defer s.observe(ctx, "get", time.Now(), &err)

	user, err := s.coll.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, &domain.UserNotFoundError{ID: id}
		}

		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	return user, nil
}

// Delete removes the user with the given id.
// Returns a UserNotFoundError if no such user exists.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	log := s.log.With(logging.Group("user", "id", id))

	defer s.observe(ctx, "delete", time.Now(), &err)
	defer func() { s.logResult(ctx, log, "delete user", err) }()

	if err := s.coll.RemoveByID(ctx, id); err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return &domain.UserNotFoundError{ID: id}
		}

		return fmt.Errorf("delete user %s: %w", id, err)
	}

	s.reload(ctx, log)

	return nil
}

// Save persists the AuthData and UserData of a previously loaded user, replacing the stored
// payloads. There is no concurrency check: the last writer wins.
// Returns ErrInvalidInput if user is nil or a payload is not a JSON document,
// or a UserNotFoundError if the user no longer exists.
func (s *Store) Save(ctx context.Context, user *domain.User) (err error) {
	defer s.observe(ctx, "save", time.Now(), &err)

	if user == nil {
		return errNilUser
	}

	log := s.log.With(logging.Group("user", "id", user.ID, "username", user.Username))

	defer func() { s.logResult(ctx, log, "save user", err) }()

	doc := &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}

	if doc.AuthData, err = domain.NormalizeData(user.AuthData); err != nil {
		return fmt.Errorf("save user %s: auth data: %w", user.ID, err)
	}

	if doc.UserData, err = domain.NormalizeData(user.UserData); err != nil {
		return fmt.Errorf("save user %s: user data: %w", user.ID, err)
	}

	if err := s.coll.Replace(ctx, doc); err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return &domain.UserNotFoundError{ID: user.ID}
		}

		return fmt.Errorf("save user %s: %w", user.ID, err)
	}

	s.reload(ctx, log)

	return nil
}

// DeleteUser removes a previously loaded user.
// Returns true if the user was deleted and false if it was already gone.
// Returns ErrInvalidInput if user is nil.
func (s *Store) DeleteUser(ctx context.Context, user *domain.User) (bool, error) {
	if user == nil {
		return false, errNilUser
	}

	if err := s.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// reload tells the notifier the identity set changed. The change is already committed,
// so a failed notification is logged and not returned.
func (s *Store) reload(ctx context.Context, log logging.Logger) {
	if err := s.notifier.Reload(ctx); err != nil {
		metrics.Reloads.WithLabelValues("store", metrics.ResultError).Inc()
		log.WarnContext(ctx, "reload notification failed", "error", err)

		return
	}

	if _, nop := s.notifier.(NopNotifier); !nop {
		metrics.Reloads.WithLabelValues("store", metrics.ResultOK).Inc()
	}
}

func (s *Store) logResult(ctx context.Context, log logging.Logger, msg string, err error) {
	switch {
	case err == nil:
		log.DebugContext(ctx, msg)
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrUsernameNotAvailable),
		errors.Is(err, domain.ErrInvalidInput):
		log.InfoContext(ctx, msg+" rejected", "error", err)
	default:
		log.ErrorContext(ctx, msg+" failed", "error", err)
	}
}

func (s *Store) observe(_ context.Context, op string, start time.Time, errp *error) {
	metrics.StoreOperationDuration.WithLabelValues(s.scope, op).Observe(time.Since(start).Seconds())
	metrics.StoreOperations.WithLabelValues(s.scope, op, resultLabel(*errp)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrUserNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrUsernameNotAvailable):
		return metrics.ResultConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
