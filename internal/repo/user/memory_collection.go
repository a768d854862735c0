package user

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkrupp/userstore/internal/domain"
)

// MemoryDatabase implements Database in process memory.
// Data is lost when the process exits.
type MemoryDatabase struct {
	collections map[string]*MemoryCollection
	m           sync.Mutex
}

var _ Database = (*MemoryDatabase)(nil)

// NewMemoryDatabase creates an empty MemoryDatabase.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		collections: make(map[string]*MemoryCollection),
	}
}

// MemoryDatabaseFactory creates a factory function that returns a new MemoryDatabase.
func MemoryDatabaseFactory() DatabaseFactory {
	return func() (Database, error) {
		return NewMemoryDatabase(), nil
	}
}

// Collection implements Database.Collection.
func (db *MemoryDatabase) Collection(_ context.Context, name string) (Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	db.m.Lock()
	defer db.m.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		coll = &MemoryCollection{name: name, docs: make(memoryDocs)}
		db.collections[name] = coll
	}

	return coll, nil
}

// Close implements Database.Close.
func (db *MemoryDatabase) Close() error {
	return nil
}

// MemoryCollection implements Collection in memory.
// A transaction holds the collection's write lock and works on a copy of the documents,
// which replaces the committed set only if the transaction succeeds.
type MemoryCollection struct {
	name string
	docs memoryDocs
	m    sync.RWMutex
}

var _ Collection = (*MemoryCollection)(nil)

// Name implements Collection.Name.
func (c *MemoryCollection) Name() string {
	return c.name
}

// FirstByUsername implements Collection.FirstByUsername.
func (c *MemoryCollection) FirstByUsername(ctx context.Context, username string) (*domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.m.RLock()
	defer c.m.RUnlock()

	user, ok := c.docs.firstByUsername(username)

	return user, ok, nil
}

// ByID implements Collection.ByID.
func (c *MemoryCollection) ByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.m.RLock()
	defer c.m.RUnlock()

	return c.docs.byID(id)
}

// All implements Collection.All.
func (c *MemoryCollection) All(ctx context.Context) ([]*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.m.RLock()
	defer c.m.RUnlock()

	return c.docs.all(), nil
}

// Insert implements Collection.Insert.
func (c *MemoryCollection) Insert(ctx context.Context, user *domain.User) (string, error) {
	var id string

	err := c.Transaction(ctx, func(tx Collection) (err error) {
		id, err = tx.Insert(ctx, user)

		return err
	})

	return id, err
}

// Replace implements Collection.Replace.
func (c *MemoryCollection) Replace(ctx context.Context, user *domain.User) error {
	return c.Transaction(ctx, func(tx Collection) error {
		return tx.Replace(ctx, user)
	})
}

// RemoveByID implements Collection.RemoveByID.
func (c *MemoryCollection) RemoveByID(ctx context.Context, id string) error {
	return c.Transaction(ctx, func(tx Collection) error {
		return tx.RemoveByID(ctx, id)
	})
}

// Transaction implements Collection.Transaction.
func (c *MemoryCollection) Transaction(ctx context.Context, fn func(tx Collection) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.m.Lock()
	defer c.m.Unlock()

	tx := &memoryTx{name: c.name, docs: maps.Clone(c.docs)}
	if err := fn(tx); err != nil {
		return err
	}

	c.docs = tx.docs

	return nil
}

// memoryTx is the Collection view handed to a transaction function.
// The owning MemoryCollection's write lock is held for its whole lifetime.
type memoryTx struct {
	name string
	docs memoryDocs
}

var _ Collection = (*memoryTx)(nil)

func (tx *memoryTx) Name() string {
	return tx.name
}

func (tx *memoryTx) FirstByUsername(ctx context.Context, username string) (*domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	user, ok := tx.docs.firstByUsername(username)

	return user, ok, nil
}

func (tx *memoryTx) ByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return tx.docs.byID(id)
}

func (tx *memoryTx) All(ctx context.Context) ([]*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return tx.docs.all(), nil
}

func (tx *memoryTx) Insert(ctx context.Context, user *domain.User) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// username is uniquely indexed, as in the sqlite schema
	if _, ok := tx.docs.firstByUsername(user.Username); ok {
		return "", fmt.Errorf("%w: username %q", ErrUniqueViolation, user.Username)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	auth, data, err := normalizePayloads(user)
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()

	doc := &domain.User{
		ID:        id.String(),
		Username:  user.Username,
		AuthData:  auth,
		UserData:  data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx.docs[doc.ID] = doc

	return doc.ID, nil
}

func (tx *memoryTx) Replace(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	existing, ok := tx.docs[user.ID]
	if !ok {
		return ErrDocumentNotFound
	}

	auth, data, err := normalizePayloads(user)
	if err != nil {
		return err
	}

	doc := existing.Clone()
	doc.AuthData = auth
	doc.UserData = data
	doc.UpdatedAt = time.Now().Unix()

	tx.docs[doc.ID] = doc

	return nil
}

func (tx *memoryTx) RemoveByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := tx.docs[id]; !ok {
		return ErrDocumentNotFound
	}

	delete(tx.docs, id)

	return nil
}

func (tx *memoryTx) Transaction(_ context.Context, fn func(tx Collection) error) error {
	return fn(tx)
}

// normalizePayloads copies both payloads into the shape the sqlite backend reads back.
func normalizePayloads(user *domain.User) (authData, userData map[string]any, err error) {
	if authData, err = domain.NormalizeData(user.AuthData); err != nil {
		return nil, nil, fmt.Errorf("encode auth data: %w", err)
	}

	if userData, err = domain.NormalizeData(user.UserData); err != nil {
		return nil, nil, fmt.Errorf("encode user data: %w", err)
	}

	return authData, userData, nil
}

// memoryDocs maps ids to documents. Stored documents are never mutated in place,
// so a shallow map copy is a consistent snapshot.
type memoryDocs map[string]*domain.User

func (d memoryDocs) firstByUsername(username string) (*domain.User, bool) {
	for _, doc := range d {
		if doc.Username == username {
			return doc.Clone(), true
		}
	}

	return nil, false
}

func (d memoryDocs) byID(id string) (*domain.User, error) {
	doc, ok := d[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	return doc.Clone(), nil
}

// all returns clones ordered by id; ids are UUIDv7 and therefore sort by creation time.
func (d memoryDocs) all() []*domain.User {
	users := make([]*domain.User, 0, len(d))
	for _, doc := range d {
		users = append(users, doc.Clone())
	}

	slices.SortFunc(users, func(a, b *domain.User) int {
		return strings.Compare(a.ID, b.ID)
	})

	return users
}
