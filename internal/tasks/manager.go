package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tasksync/internal/service"
)

var (
	// ErrTitleRequired is returned by Create when the title is empty.
	ErrTitleRequired = errors.New("title required")

	// ErrDescriptionRequired is returned by Create when the description is empty.
	ErrDescriptionRequired = errors.New("description required")

	// ErrTaskNotFound is returned by Save when no local record has the ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadySubscribed is returned by a second Subscribe.
	ErrAlreadySubscribed = errors.New("already subscribed")
)

// Identity supplies the signed-in user's email for new tasks.
type Identity interface {
	Email() string
}

// Config configures a Manager.
type Config struct {
	Store   service.TaskStore
	Feed    service.ChangeFeed
	Objects service.ObjectStore

	// Identity provides the owner email attached on create.
	Identity Identity

	// Filter selects the change subscription (channel, schema, table).
	Filter service.Filter

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Draft is a task staged for creation.
type Draft struct {
	Title       string
	Description string

	// Attachment is an optional staged file.
	Attachment *Attachment
}

// Manager owns a task list and issues mutations against the remote store.
// Mutations never change the list directly: inserts and deletes show up when
// the change feed echoes them back.
type Manager struct {
	store    service.TaskStore
	feed     service.ChangeFeed
	objects  service.ObjectStore
	identity Identity
	filter   service.Filter
	logger   *slog.Logger
	now      func() time.Time

	list *List

	mu         sync.Mutex
	sub        service.Subscription
	subscribed bool
}

// NewManager creates a manager with an empty list.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    cfg.Store,
		feed:     cfg.Feed,
		objects:  cfg.Objects,
		identity: cfg.Identity,
		filter:   cfg.Filter,
		logger:   logger,
		now:      now,
		list:     NewList(),
	}
}

// List returns the managed task list.
func (m *Manager) List() *List {
	return m.list
}

// Load issues one bulk read and replaces the list with its rows. On failure
// the list is left untouched.
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.store.SelectAll(ctx)
	if err != nil {
		m.logger.Error("error fetching tasks", "error", err)
		return err
	}
	m.list.Replace(rows)
	m.logger.Debug("fetched tasks", "count", len(rows))
	return nil
}

// Subscribe opens the manager's single change subscription. Events are
// applied to the list in delivery order.
func (m *Manager) Subscribe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed {
		return ErrAlreadySubscribed
	}

	sub, err := m.feed.Subscribe(ctx, m.filter, m.handleChange, m.handleStatus)
	if err != nil {
		m.logger.Error("error subscribing to changes", "table", m.filter.Table, "error", err)
		return err
	}
	m.sub = sub
	m.subscribed = true
	return nil
}

// Close releases the change subscription. In-flight requests are not aborted.
func (m *Manager) Close() error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub == nil {
		return nil
	}
	m.logger.Debug("unsubscribing from channel", "channel", m.filter.Channel)
	return sub.Unsubscribe()
}

func (m *Manager) handleChange(ev service.ChangeEvent) {
	changed := m.list.Apply(ev)
	m.logger.Debug("change received",
		"event", fmt.Sprintf("%T", ev),
		"id", service.EventID(ev),
		"applied", changed,
	)
}

func (m *Manager) handleStatus(status service.SubscriptionStatus, err error) {
	if err != nil {
		m.logger.Error("subscription status", "status", string(status), "error", err)
		return
	}
	m.logger.Info("subscription status", "status", string(status))
}

// Create validates the draft, uploads its attachment if any, and inserts one
// row owned by the signed-in user. A failed upload does not stop the insert;
// the task is created without an image.
func (m *Manager) Create(ctx context.Context, draft Draft) error {
	if draft.Title == "" {
		m.logger.Error("please fill in both fields", "missing", "title")
		return ErrTitleRequired
	}
	if draft.Description == "" {
		m.logger.Error("please fill in both fields", "missing", "description")
		return ErrDescriptionRequired
	}

	row := service.NewTask{
		Title:       draft.Title,
		Description: draft.Description,
	}
	if m.identity != nil {
		row.Email = m.identity.Email()
	}

	if draft.Attachment != nil {
		url, err := UploadAttachment(ctx, m.objects, *draft.Attachment, m.now(), m.logger)
		if err == nil {
			row.ImageURL = &url
		}
	}

	created, err := m.store.Insert(ctx, row)
	if err != nil {
		m.logger.Error("error inserting task", "error", err)
		return err
	}
	m.logger.Info("task added successfully", "id", created.ID)
	return nil
}

// Save writes the local record's title and description back to the store,
// then clears its edit flag whether or not the write succeeded.
func (m *Manager) Save(ctx context.Context, id int64) error {
	task, ok := m.list.Find(id)
	if !ok {
		m.logger.Error("task not found for editing", "id", id)
		return ErrTaskNotFound
	}

	_, err := m.store.Update(ctx, id, service.TaskFields{
		Title:       task.Title,
		Description: task.Description,
	})
	if err != nil {
		m.logger.Error("error updating task", "id", id, "error", err)
	} else {
		m.logger.Info("task updated successfully", "id", id)
	}

	m.list.ClearEditing(id)
	return err
}

// Delete removes the row with the given ID from the store.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error("error deleting task", "id", id, "error", err)
		return err
	}
	m.logger.Info("task deleted successfully", "id", id)
	return nil
}
