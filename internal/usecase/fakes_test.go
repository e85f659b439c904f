package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"credential-service/internal/data/entity"
	"credential-service/internal/data/repository"
)

// fakeUserStore is an in-memory credential store. Transactions are
// serialized and rolled back through an undo log.
type fakeUserStore struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	users     map[int64]*entity.User
	byEmail   map[string]int64
	nextID    int64
	commitErr error
	findErr   error
	// staleReads makes FindByEmail miss rows written by other transactions,
	// as a competing insert that has not committed yet would.
	staleReads bool
	// beforeWrite runs ahead of single-row updates, outside the store lock.
	beforeWrite func()
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:   make(map[int64]*entity.User),
		byEmail: make(map[string]int64),
	}
}

func (s *fakeUserStore) repo() repository.UserRepository {
	return &fakeUserRepo{store: s}
}

func (s *fakeUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *fakeUserStore) remove(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, s.byEmail[email])
	delete(s.byEmail, email)
}

func (s *fakeUserStore) get(email string) *entity.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil
	}
	u := *s.users[id]
	return &u
}

type fakeUserRepo struct {
	store *fakeUserStore
	undo  *[]func()
}

func (r *fakeUserRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo repository.UserRepository) error) (err error) {
	if r.undo != nil {
		return fn(ctx, r)
	}

	r.store.txMu.Lock()
	defer r.store.txMu.Unlock()

	var undo []func()
	tx := &fakeUserRepo{store: r.store, undo: &undo}

	rollback := func() {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		rollback()
		return err
	}
	if r.store.commitErr != nil {
		rollback()
		return fmt.Errorf("commit transaction: %w", r.store.commitErr)
	}
	return nil
}

func (r *fakeUserRepo) record(f func()) {
	if r.undo != nil {
		*r.undo = append(*r.undo, f)
	}
}

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return fmt.Errorf("create user %s: %w", user.Email, repository.ErrDuplicateEmail)
	}
	s.nextID++
	user.ID = s.nextID
	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = user.ID

	id, email := user.ID, user.Email
	r.record(func() {
		delete(s.users, id)
		delete(s.byEmail, email)
	})
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	id, ok := s.byEmail[email]
	if !ok || s.staleReads {
		return nil, nil
	}
	cp := *s.users[id]
	return &cp, nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *entity.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[user.ID]
	if !ok {
		return repository.ErrUserNotFound
	}
	prev := *old
	next := *user
	next.PasswordHash = prev.PasswordHash
	s.users[user.ID] = &next
	r.record(func() { s.users[prev.ID] = &prev })
	return nil
}

func (r *fakeUserRepo) MarkVerified(_ context.Context, id int64) error {
	s := r.store
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	prev := *old
	next := *old
	next.IsVerified = true
	next.UpdatedAt = time.Now()
	s.users[id] = &next
	r.record(func() { s.users[prev.ID] = &prev })
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	s := r.store
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	prev := *old
	next := *old
	next.PasswordHash = passwordHash
	s.users[id] = &next
	r.record(func() { s.users[prev.ID] = &prev })
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	prev := *old
	delete(s.users, id)
	delete(s.byEmail, prev.Email)
	r.record(func() {
		s.users[prev.ID] = &prev
		s.byEmail[prev.Email] = prev.ID
	})
	return nil
}

// fakeVerificationRepo is an in-memory cache without expiry, used where a
// real redis connection is not wanted.
type fakeVerificationRepo struct {
	mu        sync.Mutex
	entries   map[string]string
	sets      int
	setErr    error
	deleteErr error
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{entries: make(map[string]string)}
}

func (f *fakeVerificationRepo) Set(_ context.Context, purpose entity.VerificationPurpose, email, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[purpose.Key(email)] = code
	f.sets++
	return nil
}

func (f *fakeVerificationRepo) Get(_ context.Context, purpose entity.VerificationPurpose, email string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.entries[purpose.Key(email)]
	return code, ok, nil
}

func (f *fakeVerificationRepo) Delete(_ context.Context, purpose entity.VerificationPurpose, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.entries, purpose.Key(email))
	return nil
}

func (f *fakeVerificationRepo) has(purpose entity.VerificationPurpose, email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[purpose.Key(email)]
	return ok
}

func (f *fakeVerificationRepo) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu      sync.Mutex
	err     error
	panicOn string
	sent    []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn != "" && m.panicOn == to {
		panic("mail relay client crashed")
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var codePattern = regexp.MustCompile(`>(\d{6})<`)

// lastCode extracts the code from the most recent message.
func (m *fakeMailer) lastCode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return "", errors.New("no mail sent")
	}
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].body)
	if match == nil {
		return "", errors.New("no code in mail body")
	}
	return match[1], nil
}
