// ABOUTME: SQLite persistence for memory graph nodes and their archived versions
// ABOUTME: Node refs are stored as a JSON array column

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetMemoryNode retrieves a node by id for a user.
// Returns ErrNotFound if the node doesn't exist.
func (s *SQLiteStore) GetMemoryNode(ctx context.Context, userID, id string) (*MemoryNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, id, title, description, content, refs, version, content_hash, created_at, updated_at
		FROM memory_nodes
		WHERE user_id = ? AND id = ?
	`, userID, id)

	node, err := scanMemoryNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory node: %w", err)
	}
	return node, nil
}

// ListMemoryNodes returns every node of a user in creation order.
func (s *SQLiteStore) ListMemoryNodes(ctx context.Context, userID string) ([]*MemoryNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, id, title, description, content, refs, version, content_hash, created_at, updated_at
		FROM memory_nodes
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memory nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*MemoryNode
	for rows.Next() {
		node, err := scanMemoryNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// SaveMemoryNodes upserts nodes and inserts versions in a single transaction.
func (s *SQLiteStore) SaveMemoryNodes(ctx context.Context, userID string, nodes []*MemoryNode, versions []*MemoryNodeVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, node := range nodes {
		refs, err := marshalRefs(node.Refs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_nodes (user_id, id, title, description, content, refs, version, content_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				content = excluded.content,
				refs = excluded.refs,
				version = excluded.version,
				content_hash = excluded.content_hash,
				updated_at = excluded.updated_at
		`, userID, node.ID, node.Title, node.Description, node.Content, refs, node.Version, node.ContentHash,
			formatTime(node.CreatedAt), formatTime(node.UpdatedAt))
		if err != nil {
			return fmt.Errorf("saving memory node %s: %w", node.ID, err)
		}
	}

	for _, v := range versions {
		refs, err := marshalRefs(v.Refs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_node_versions (user_id, node_id, version, title, description, content, refs, content_hash, change_description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, v.NodeID, v.Version, v.Title, v.Description, v.Content, refs, v.ContentHash, v.ChangeDescription,
			formatTime(v.CreatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("version %d of %s: %w", v.Version, v.NodeID, ErrDuplicate)
			}
			return fmt.Errorf("saving memory node version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing memory nodes: %w", err)
	}

	s.logger.Debug("saved memory nodes", "user_id", userID, "nodes", len(nodes), "versions", len(versions))
	return nil
}

// ListMemoryNodeVersions returns the archived versions of a node, oldest first.
func (s *SQLiteStore) ListMemoryNodeVersions(ctx context.Context, userID, nodeID string) ([]*MemoryNodeVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, node_id, version, title, description, content, refs, content_hash, change_description, created_at
		FROM memory_node_versions
		WHERE user_id = ? AND node_id = ?
		ORDER BY version ASC
	`, userID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying memory node versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*MemoryNodeVersion
	for rows.Next() {
		var v MemoryNodeVersion
		var refs, createdAt string
		if err := rows.Scan(&v.UserID, &v.NodeID, &v.Version, &v.Title, &v.Description, &v.Content,
			&refs, &v.ContentHash, &v.ChangeDescription, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory node version: %w", err)
		}
		if err := json.Unmarshal([]byte(refs), &v.Refs); err != nil {
			return nil, fmt.Errorf("parsing refs: %w", err)
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryNode(row rowScanner) (*MemoryNode, error) {
	var node MemoryNode
	var refs, createdAt, updatedAt string
	if err := row.Scan(&node.UserID, &node.ID, &node.Title, &node.Description, &node.Content,
		&refs, &node.Version, &node.ContentHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(refs), &node.Refs); err != nil {
		return nil, fmt.Errorf("parsing refs: %w", err)
	}

	var err error
	if node.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if node.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &node, nil
}

func marshalRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("marshaling refs: %w", err)
	}
	return string(b), nil
}
