package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"tasksync/internal/service"
)

// Store implements service.TaskStore on the sqlite task table. Every
// committed change is published to the feed.
type Store struct {
	db     *gorm.DB
	schema string
	table  string
	auth   *Auth
	feed   Publisher
	logger *slog.Logger
}

// SelectAll implements service.TaskStore.
func (s *Store) SelectAll(ctx context.Context) ([]service.Task, error) {
	if _, err := s.auth.authorize(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}
	return s.rows(ctx)
}

// rows lists every task in ID order.
func (s *Store) rows(ctx context.Context) ([]service.Task, error) {
	var rows []TaskRow
	if err := s.db.WithContext(ctx).Table(s.table).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}
	tasks := make([]service.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.task())
	}
	return tasks, nil
}

// Insert implements service.TaskStore.
func (s *Store) Insert(ctx context.Context, task service.NewTask) (service.Task, error) {
	if _, err := s.auth.authorize(ctx); err != nil {
		return service.Task{}, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	row := TaskRow{
		Title:       task.Title,
		Description: task.Description,
		Email:       task.Email,
		ImageURL:    task.ImageURL,
	}
	if err := s.db.WithContext(ctx).Table(s.table).Create(&row).Error; err != nil {
		return service.Task{}, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	inserted := row.task()
	s.publish(ctx, service.Inserted{Task: inserted})
	return inserted, nil
}

// Update implements service.TaskStore.
func (s *Store) Update(ctx context.Context, id int64, fields service.TaskFields) (service.Task, error) {
	if _, err := s.auth.authorize(ctx); err != nil {
		return service.Task{}, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	var row TaskRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(s.table).Where("id = ?", id).Updates(map[string]any{
			"title":       fields.Title,
			"description": fields.Description,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task %d not found", id)
		}
		return tx.Table(s.table).First(&row, "id = ?", id).Error
	})
	if err != nil {
		return service.Task{}, fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	updated := row.task()
	s.publish(ctx, service.Updated{Task: updated})
	return updated, nil
}

// Delete implements service.TaskStore. Deleting a missing row is not an
// error and publishes nothing.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.auth.authorize(ctx); err != nil {
		return fmt.Errorf("%w: %w", service.ErrQuery, err)
	}

	res := s.db.WithContext(ctx).Table(s.table).Where("id = ?", id).Delete(&TaskRow{})
	if res.Error != nil {
		return fmt.Errorf("%w: %w", service.ErrQuery, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, service.Deleted{ID: id})
	}
	return nil
}

// publish announces a committed change. Failures are logged; the write
// itself already succeeded.
func (s *Store) publish(ctx context.Context, ev service.ChangeEvent) {
	if s.feed == nil {
		return
	}
	payload, err := service.NewChangePayload(s.schema, s.table, ev)
	if err == nil {
		payload.CommitTimestamp = time.Now().UTC().Format(time.RFC3339Nano)
		err = s.feed.Publish(ctx, payload)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("failed to publish change", "id", service.EventID(ev), "error", err)
	}
}
