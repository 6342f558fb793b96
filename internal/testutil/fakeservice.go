// Package testutil provides testing utilities.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"tasksync/internal/service"
)

// ErrNotFound is returned when a row or object is missing.
var ErrNotFound = errors.New("not found")

// PublicBaseURL prefixes the URLs returned by the fake object store.
const PublicBaseURL = "https://fake.test/storage/v1/object/public/todo-images/"

// UpdateCall records one Update request.
type UpdateCall struct {
	ID     int64
	Fields service.TaskFields
}

// FakeService is an in-memory implementation of service.Service for testing.
// Successful mutations are echoed to change subscribers, like the hosted feed.
type FakeService struct {
	mu      sync.Mutex
	tasks   []service.Task
	nextID  int64
	users   map[string]string // email -> password
	session *service.Session

	authListeners map[int]func(service.AuthEvent)
	subs          map[int]func(service.ChangeEvent)
	nextHandle    int

	objects    map[string][]byte
	uploadOpts map[string]service.UploadOptions

	// SilentFeed stops mutations from being echoed to subscribers.
	SilentFeed bool

	// Error injection for testing
	SessionErr   error
	SignUpErr    error
	SignInErr    error
	SignOutErr   error
	SelectErr    error
	InsertErr    error
	UpdateErr    error
	DeleteErr    error
	SubscribeErr error
	UploadErr    error

	// Recorded calls
	Inserts  []service.NewTask
	Updates  []UpdateCall
	Deletes  []int64
	Filters  []service.Filter
	Statuses []service.SubscriptionStatus
	Closed   bool
}

// NewFakeService creates an empty FakeService.
func NewFakeService() *FakeService {
	return &FakeService{
		nextID:        1,
		users:         make(map[string]string),
		authListeners: make(map[int]func(service.AuthEvent)),
		subs:          make(map[int]func(service.ChangeEvent)),
		objects:       make(map[string][]byte),
		uploadOpts:    make(map[string]service.UploadOptions),
	}
}

// AddUser registers an account.
func (f *FakeService) AddUser(email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email] = password
}

// SetSession installs a session without notifying listeners, as if one had
// been restored from disk.
func (f *FakeService) SetSession(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = fakeSession(email)
}

// AddTask adds a row without emitting a change event.
func (f *FakeService) AddTask(title, description, email string) service.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := service.Task{ID: f.nextID, Title: title, Description: description, Email: email}
	f.nextID++
	f.tasks = append(f.tasks, t)
	return t
}

// Rows returns a copy of the stored rows.
func (f *FakeService) Rows() []service.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]service.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

// Object returns a stored object's bytes and options.
func (f *FakeService) Object(key string) ([]byte, service.UploadOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, f.uploadOpts[key], ok
}

// ObjectKeys returns the stored object keys, sorted.
func (f *FakeService) ObjectKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribers returns the number of open change subscriptions.
func (f *FakeService) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// AuthListeners returns the number of registered auth listeners.
func (f *FakeService) AuthListeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.authListeners)
}

// Emit delivers ev to every change subscriber.
func (f *FakeService) Emit(ev service.ChangeEvent) {
	f.mu.Lock()
	handlers := f.sortedSubsLocked()
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// EmitAuth delivers ev to every auth listener.
func (f *FakeService) EmitAuth(ev service.AuthEvent) {
	f.mu.Lock()
	switch ev.Kind {
	case service.SignedIn, service.TokenRefreshed:
		f.session = ev.Session
	case service.SignedOut:
		f.session = nil
	}
	listeners := make([]func(service.AuthEvent), 0, len(f.authListeners))
	for _, l := range f.authListeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (f *FakeService) sortedSubsLocked() []func(service.ChangeEvent) {
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(service.ChangeEvent), len(ids))
	for i, id := range ids {
		out[i] = f.subs[id]
	}
	return out
}

func (f *FakeService) echo(ev service.ChangeEvent) {
	if f.SilentFeed {
		return
	}
	f.Emit(ev)
}

// Auth implements service.Service.
func (f *FakeService) Auth() service.Auth { return fakeAuth{f} }

// Tasks implements service.Service.
func (f *FakeService) Tasks() service.TaskStore { return fakeStore{f} }

// Changes implements service.Service.
func (f *FakeService) Changes() service.ChangeFeed { return fakeFeed{f} }

// Storage implements service.Service.
func (f *FakeService) Storage() service.ObjectStore { return fakeObjects{f} }

// Close implements service.Service.
func (f *FakeService) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func fakeSession(email string) *service.Session {
	return &service.Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         service.User{ID: "user-" + email, Email: email},
	}
}

type fakeAuth struct{ f *FakeService }

func (a fakeAuth) Session(ctx context.Context) (*service.Session, error) {
	if a.f.SessionErr != nil {
		return nil, a.f.SessionErr
	}
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	return a.f.session, nil
}

func (a fakeAuth) SignUp(ctx context.Context, email, password string) (*service.Session, error) {
	if a.f.SignUpErr != nil {
		return nil, a.f.SignUpErr
	}
	a.f.mu.Lock()
	if _, exists := a.f.users[email]; exists {
		a.f.mu.Unlock()
		return nil, fmt.Errorf("%w: user already registered", service.ErrAuth)
	}
	a.f.users[email] = password
	a.f.mu.Unlock()

	sess := fakeSession(email)
	a.f.EmitAuth(service.AuthEvent{Kind: service.SignedIn, Session: sess})
	return sess, nil
}

func (a fakeAuth) SignIn(ctx context.Context, email, password string) (*service.Session, error) {
	if a.f.SignInErr != nil {
		return nil, a.f.SignInErr
	}
	a.f.mu.Lock()
	want, ok := a.f.users[email]
	a.f.mu.Unlock()
	if !ok || want != password {
		return nil, fmt.Errorf("%w: invalid login credentials", service.ErrAuth)
	}

	sess := fakeSession(email)
	a.f.EmitAuth(service.AuthEvent{Kind: service.SignedIn, Session: sess})
	return sess, nil
}

func (a fakeAuth) SignOut(ctx context.Context) error {
	if a.f.SignOutErr != nil {
		return a.f.SignOutErr
	}
	a.f.mu.Lock()
	had := a.f.session != nil
	a.f.mu.Unlock()
	if had {
		a.f.EmitAuth(service.AuthEvent{Kind: service.SignedOut})
	}
	return nil
}

func (a fakeAuth) OnAuthStateChange(fn func(service.AuthEvent)) func() {
	a.f.mu.Lock()
	id := a.f.nextHandle
	a.f.nextHandle++
	a.f.authListeners[id] = fn
	a.f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.f.mu.Lock()
			delete(a.f.authListeners, id)
			a.f.mu.Unlock()
		})
	}
}

type fakeStore struct{ f *FakeService }

func (s fakeStore) SelectAll(ctx context.Context) ([]service.Task, error) {
	if s.f.SelectErr != nil {
		return nil, s.f.SelectErr
	}
	return s.f.Rows(), nil
}

func (s fakeStore) Insert(ctx context.Context, row service.NewTask) (service.Task, error) {
	s.f.mu.Lock()
	s.f.Inserts = append(s.f.Inserts, row)
	if s.f.InsertErr != nil {
		s.f.mu.Unlock()
		return service.Task{}, s.f.InsertErr
	}
	t := service.Task{
		ID:          s.f.nextID,
		Title:       row.Title,
		Description: row.Description,
		Email:       row.Email,
		ImageURL:    row.ImageURL,
	}
	s.f.nextID++
	s.f.tasks = append(s.f.tasks, t)
	s.f.mu.Unlock()

	s.f.echo(service.Inserted{Task: t})
	return t, nil
}

func (s fakeStore) Update(ctx context.Context, id int64, fields service.TaskFields) (service.Task, error) {
	s.f.mu.Lock()
	s.f.Updates = append(s.f.Updates, UpdateCall{ID: id, Fields: fields})
	if s.f.UpdateErr != nil {
		s.f.mu.Unlock()
		return service.Task{}, s.f.UpdateErr
	}
	for i, t := range s.f.tasks {
		if t.ID == id {
			t.Title = fields.Title
			t.Description = fields.Description
			s.f.tasks[i] = t
			s.f.mu.Unlock()
			s.f.echo(service.Updated{Task: t})
			return t, nil
		}
	}
	s.f.mu.Unlock()
	return service.Task{}, fmt.Errorf("%w: %w", service.ErrQuery, ErrNotFound)
}

func (s fakeStore) Delete(ctx context.Context, id int64) error {
	s.f.mu.Lock()
	s.f.Deletes = append(s.f.Deletes, id)
	if s.f.DeleteErr != nil {
		s.f.mu.Unlock()
		return s.f.DeleteErr
	}
	found := false
	kept := s.f.tasks[:0]
	for _, t := range s.f.tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	s.f.tasks = kept
	s.f.mu.Unlock()

	// Deleting a missing row succeeds without an event, like a filtered delete.
	if found {
		s.f.echo(service.Deleted{ID: id})
	}
	return nil
}

type fakeFeed struct{ f *FakeService }

func (c fakeFeed) Subscribe(ctx context.Context, filter service.Filter, handler func(service.ChangeEvent), status func(service.SubscriptionStatus, error)) (service.Subscription, error) {
	c.f.mu.Lock()
	c.f.Filters = append(c.f.Filters, filter)
	if c.f.SubscribeErr != nil {
		c.f.mu.Unlock()
		return nil, c.f.SubscribeErr
	}
	id := c.f.nextHandle
	c.f.nextHandle++
	c.f.subs[id] = handler
	c.f.Statuses = append(c.f.Statuses, service.StatusSubscribed)
	c.f.mu.Unlock()

	if status != nil {
		status(service.StatusSubscribed, nil)
	}
	return &fakeSub{f: c.f, id: id, status: status}, nil
}

type fakeSub struct {
	f      *FakeService
	id     int
	status func(service.SubscriptionStatus, error)
	once   sync.Once
}

func (s *fakeSub) Unsubscribe() error {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s.id)
		s.f.Statuses = append(s.f.Statuses, service.StatusClosed)
		s.f.mu.Unlock()
		if s.status != nil {
			s.status(service.StatusClosed, nil)
		}
	})
	return nil
}

type fakeObjects struct{ f *FakeService }

func (o fakeObjects) Upload(ctx context.Context, key string, body io.Reader, opts service.UploadOptions) (string, error) {
	if o.f.UploadErr != nil {
		return "", o.f.UploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", fmt.Errorf("%w: %w", service.ErrUpload, err)
	}
	o.f.mu.Lock()
	defer o.f.mu.Unlock()
	if _, exists := o.f.objects[key]; exists && !opts.Upsert {
		return "", fmt.Errorf("%w: object already exists", service.ErrUpload)
	}
	o.f.objects[key] = buf.Bytes()
	o.f.uploadOpts[key] = opts
	return key, nil
}

func (o fakeObjects) PublicURL(key string) string {
	return PublicBaseURL + key
}
