// Package mock serves a small user directory for development, standing in
// for the upstream's user management endpoints.
package mock

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/davon-library/webgate/storage"
	"github.com/davon-library/webgate/token"
)

const (
	namespace  = "mock"
	recordType = "user"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidSort        = errors.New("invalid sort field")
)

// User is a directory entry as returned to clients. Password hashes are
// never part of it.
type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordID returns the id as a string.
func (u User) RecordID() string { return strconv.Itoa(u.ID) }

// NewUser is the input to Create, Register and Seed.
type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// Patch holds the fields an update may change. Nil fields are left alone.
type Patch struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
}

// ListQuery selects a window of users. End is exclusive; a negative End
// means "to the end".
type ListQuery struct {
	Start int
	End   int
	Sort  string
	Desc  bool
}

type record struct {
	User
	PasswordHash string `json:"passwordHash,omitempty"`
}

// UserStore keeps users in a storage.Repository. Every mutation runs in a
// single repository transaction.
type UserStore struct {
	repo storage.Repository
	cost int
	now  func() time.Time
}

// StoreOption configures a UserStore.
type StoreOption func(*UserStore)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) StoreOption {
	return func(s *UserStore) { s.cost = cost }
}

// WithStoreClock overrides time.Now for createdAt stamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *UserStore) { s.now = now }
}

// NewUserStore returns a UserStore backed by repo.
func NewUserStore(repo storage.Repository, opts ...StoreOption) *UserStore {
	s := &UserStore{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the requested window and the total number of users.
func (s *UserStore) List(q ListQuery) ([]User, int, error) {
	all, err := s.all()
	if err != nil {
		return nil, 0, err
	}
	if err := sortUsers(all, q.Sort, q.Desc); err != nil {
		return nil, 0, err
	}

	total := len(all)
	start := min(max(q.Start, 0), total)
	end := total
	if q.End >= 0 && q.End < total {
		end = q.End
	}
	if end < start {
		end = start
	}
	return all[start:end], total, nil
}

// Get returns the user with the given id or storage.ErrNotFound.
func (s *UserStore) Get(id int) (User, error) {
	rec, err := s.load(id)
	if err != nil {
		return User{}, err
	}
	return rec.User, nil
}

// Create stores a new user with the next free id.
func (s *UserStore) Create(nu NewUser) (User, error) {
	return s.insert(nu, false)
}

// Register is Create with a unique email check.
func (s *UserStore) Register(nu NewUser) (User, error) {
	return s.insert(nu, true)
}

func (s *UserStore) insert(nu NewUser, uniqueEmail bool) (User, error) {
	hash, err := s.hash(nu.Password)
	if err != nil {
		return User{}, err
	}
	rec := record{
		User: User{
			Name:      strings.TrimSpace(nu.Name),
			Email:     strings.TrimSpace(nu.Email),
			Role:      normalizeRole(nu.Role),
			CreatedAt: s.now().UTC(),
		},
		PasswordHash: hash,
	}

	err = s.repo.Batch(namespace, func(tx storage.Tx) error {
		existing, err := readAll(tx)
		if err != nil {
			return err
		}
		next := 1
		for _, u := range existing {
			if uniqueEmail && strings.EqualFold(u.Email, rec.Email) {
				return ErrEmailTaken
			}
			next = max(next, u.ID+1)
		}
		rec.ID = next
		return put(tx, rec)
	})
	if err != nil {
		return User{}, err
	}
	return rec.User, nil
}

// Update merges patch into the stored user.
func (s *UserStore) Update(id int, patch Patch) (User, error) {
	var hash string
	if patch.Password != nil {
		h, err := s.hash(*patch.Password)
		if err != nil {
			return User{}, err
		}
		hash = h
	}

	var out User
	err := s.repo.Batch(namespace, func(tx storage.Tx) error {
		data, err := tx.Get(recordType, strconv.Itoa(id))
		if err != nil {
			return err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding user %d: %w", id, err)
		}
		if patch.Name != nil {
			rec.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Email != nil {
			rec.Email = strings.TrimSpace(*patch.Email)
		}
		if patch.Role != nil {
			rec.Role = normalizeRole(*patch.Role)
		}
		if patch.Password != nil {
			rec.PasswordHash = hash
		}
		out = rec.User
		return put(tx, rec)
	})
	if err != nil {
		return User{}, err
	}
	return out, nil
}

// Delete removes the user. Deleting a missing user is not an error.
func (s *UserStore) Delete(id int) error {
	err := s.repo.Delete(namespace, recordType, strconv.Itoa(id))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil
	}
	return err
}

// Seed inserts users when the store is empty and reports how many were
// added.
func (s *UserStore) Seed(users []NewUser) (int, error) {
	recs := make([]record, 0, len(users))
	for _, nu := range users {
		hash, err := s.hash(nu.Password)
		if err != nil {
			return 0, err
		}
		recs = append(recs, record{
			User: User{
				Name:      nu.Name,
				Email:     nu.Email,
				Role:      normalizeRole(nu.Role),
				CreatedAt: s.now().UTC(),
			},
			PasswordHash: hash,
		})
	}

	added := 0
	err := s.repo.Batch(namespace, func(tx storage.Tx) error {
		ids, err := tx.List(recordType)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return nil
		}
		for n := range recs {
			recs[n].ID = n + 1
			if err := put(tx, recs[n]); err != nil {
				return err
			}
		}
		added = len(recs)
		return nil
	})
	return added, err
}

// dummyHash keeps Authenticate's timing similar for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-password"), bcrypt.MinCost)

// Authenticate checks the password of the user with the given email.
func (s *UserStore) Authenticate(email, password string) (User, error) {
	all, err := s.records()
	if err != nil {
		return User{}, err
	}
	for _, rec := range all {
		if !strings.EqualFold(rec.Email, strings.TrimSpace(email)) {
			continue
		}
		if rec.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
			return User{}, ErrInvalidCredentials
		}
		return rec.User, nil
	}
	bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	return User{}, ErrInvalidCredentials
}

func (s *UserStore) hash(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

func (s *UserStore) load(id int) (record, error) {
	data, err := s.repo.Get(namespace, recordType, strconv.Itoa(id))
	if errors.Is(err, storage.ErrNamespaceNotFound) {
		return record{}, storage.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decoding user %d: %w", id, err)
	}
	return rec, nil
}

func (s *UserStore) records() ([]record, error) {
	ids, err := s.repo.List(namespace, recordType)
	if err != nil {
		return nil, err
	}
	out := make([]record, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		rec, err := s.load(n)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between List and Get.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *UserStore) all() ([]User, error) {
	recs, err := s.records()
	if err != nil {
		return nil, err
	}
	users := make([]User, len(recs))
	for n, rec := range recs {
		users[n] = rec.User
	}
	return users, nil
}

func readAll(tx storage.Tx) ([]User, error) {
	ids, err := tx.List(recordType)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		data, err := tx.Get(recordType, id)
		if err != nil {
			return nil, err
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decoding user %s: %w", id, err)
		}
		users = append(users, rec.User)
	}
	return users, nil
}

func put(tx storage.Tx, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(recordType, strconv.Itoa(rec.ID), data)
}

func normalizeRole(role string) string {
	if r := token.NormalizeRole(role); r != "" {
		return r
	}
	return token.RoleMember
}

// sortUsers orders users by field, ascending by id when field is empty.
func sortUsers(users []User, field string, desc bool) error {
	var less func(a, b User) int
	switch field {
	case "", "id":
		less = func(a, b User) int { return cmp.Compare(a.ID, b.ID) }
	case "name":
		less = func(a, b User) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }
	case "email":
		less = func(a, b User) int { return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email)) }
	case "role":
		less = func(a, b User) int { return strings.Compare(a.Role, b.Role) }
	case "createdAt":
		less = func(a, b User) int { return a.CreatedAt.Compare(b.CreatedAt) }
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSort, field)
	}
	slices.SortStableFunc(users, func(a, b User) int {
		c := less(a, b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
	return nil
}
