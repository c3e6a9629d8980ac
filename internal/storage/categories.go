package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/mailflow/internal/model"
)

// GetCategories returns all categories ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory creates a new category bucket.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name, description string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}
	return &model.Category{ID: id, Name: name, Description: description}, nil
}

// GetSenderCategory returns the category a sender has been bucketed into for
// an account, or nil if the sender is uncategorized.
func (s *SQLiteStorage) GetSenderCategory(ctx context.Context, accountID, sender string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(sender, "sender"); err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.name, c.description, c.created_at
		FROM sender_categories sc
		JOIN categories c ON c.id = sc.category_id
		WHERE sc.account_id = ? AND sc.sender = ?
	`
	var c model.Category
	err := s.db.QueryRowContext(ctx, query, accountID, sender).Scan(
		&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sender category: %w", err)
	}
	return &c, nil
}

// SetSenderCategory assigns a sender to a category, replacing any previous
// assignment. Written by categorization jobs; read-only during execution.
func (s *SQLiteStorage) SetSenderCategory(ctx context.Context, accountID, sender string, categoryID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}
	if err := validateString(sender, "sender"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_categories (account_id, sender, category_id) VALUES (?, ?, ?)
		ON CONFLICT(account_id, sender) DO UPDATE SET category_id = excluded.category_id
	`, accountID, sender, categoryID)
	if err != nil {
		return fmt.Errorf("failed to set sender category: %w", err)
	}
	return nil
}

// CreateGroup creates a named pattern group.
func (s *SQLiteStorage) CreateGroup(ctx context.Context, name string) (*model.Group, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO groups (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get group ID: %w", err)
	}
	return &model.Group{ID: id, Name: name}, nil
}

// AddGroupItem records a learned from/subject pattern in a group.
func (s *SQLiteStorage) AddGroupItem(ctx context.Context, item *model.GroupItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item", ErrNilParameter)
	}
	if err := validateString(item.Value, "item.Value"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO group_items (group_id, type, value, exclude) VALUES (?, ?, ?, ?)`,
		item.GroupID, string(item.Type), item.Value, item.Exclude)
	if err != nil {
		return fmt.Errorf("failed to add group item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get group item ID: %w", err)
	}
	item.ID = id
	return nil
}

// GetGroupItems returns a group's learned patterns, includes before excludes.
func (s *SQLiteStorage) GetGroupItems(ctx context.Context, groupID int64) ([]model.GroupItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, type, value, exclude, created_at
		FROM group_items WHERE group_id = ?
		ORDER BY exclude ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.GroupItem
	for rows.Next() {
		var item model.GroupItem
		var itemType string
		if err := rows.Scan(&item.ID, &item.GroupID, &itemType, &item.Value, &item.Exclude, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group item: %w", err)
		}
		item.Type = model.GroupItemType(itemType)
		items = append(items, item)
	}
	return items, rows.Err()
}
