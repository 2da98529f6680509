// Package billing holds the client and invoice records that automation
// actions mutate. The lifecycle engine never touches these directly;
// everything arrives via the event bus.
package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// Category classifies a client by engagement.
type Category string

const (
	CategoryPotential Category = "potential"
	CategoryActive    Category = "active"
	CategoryInactive  Category = "inactive"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryPotential || c == CategoryActive || c == CategoryInactive
}

// Client is the customer a job belongs to.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientStore handles client persistence.
type ClientStore struct {
	db *sql.DB
}

// NewClientStore creates a client storage instance.
func NewClientStore(db *sql.DB) *ClientStore {
	return &ClientStore{db: db}
}

// Create inserts a new client, defaulting the category to potential.
func (cs *ClientStore) Create(ctx context.Context, c *Client) error {
	if c.Name == "" {
		return errors.New("client name cannot be empty")
	}
	if c.ID == "" {
		c.ID = ids.New("client")
	}
	if c.Category == "" {
		c.Category = CategoryPotential
	}
	if !c.Category.Valid() {
		return errors.Newf("invalid client category %q", c.Category)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := cs.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Category,
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	return nil
}

// Get retrieves a client by ID.
func (cs *ClientStore) Get(ctx context.Context, id string) (*Client, error) {
	var c Client
	var createdAt, updatedAt string
	err := cs.db.QueryRowContext(ctx, `
		SELECT id, name, category, created_at, updated_at
		FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Category, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "client %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan client")
	}

	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for client %s", c.ID)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for client %s", c.ID)
	}
	return &c, nil
}

// SetCategory updates a client's category.
func (cs *ClientStore) SetCategory(ctx context.Context, id string, category Category) error {
	if !category.Valid() {
		return errors.Newf("invalid client category %q", category)
	}
	result, err := cs.db.ExecContext(ctx, `
		UPDATE clients SET category = ?, updated_at = ? WHERE id = ?`,
		category, time.Now().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update client category")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "client %s", id)
	}
	return nil
}
