package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// GetItemState reads one item's allocation state.
func (s *SQLiteStore) GetItemState(ctx context.Context, itemID string) (*models.ItemState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer tx.Rollback()

	return readItemState(ctx, tx, itemID)
}

// UpdateItem reads the item state, asks fn for a change and writes it back in
// the same transaction. The item row's version is compared and bumped, so a
// writer that read a stale state loses with storage.ErrConflict.
func (s *SQLiteStore) UpdateItem(ctx context.Context, itemID string, fn storage.MutateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer tx.Rollback()

	state, err := readItemState(ctx, tx, itemID)
	if err != nil {
		return err
	}

	change, err := fn(state)
	if err != nil {
		return err
	}
	if change == nil {
		return nil
	}

	if c := change.AddClaim; c != nil {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO claims (id, bill_id, item_id, participant_id, quantity, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			c.ID, c.BillID, c.ItemID, c.ParticipantID, c.Quantity, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert claim: %w", translate(err))
		}
	}
	if change.RemoveClaimID != "" {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM claims WHERE id = ? AND item_id = ?",
			change.RemoveClaimID, itemID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete claim: %w", translate(err))
		}
	}
	if m := change.AddMember; m != nil {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO shared_members (id, item_id, participant_id, joined_at) VALUES (?, ?, ?, ?)",
			m.ID, m.ItemID, m.ParticipantID, m.JoinedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert shared member: %w", translate(err))
		}
	}
	if change.RemoveMemberID != "" {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM shared_members WHERE id = ? AND item_id = ?",
			change.RemoveMemberID, itemID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete shared member: %w", translate(err))
		}
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE items SET pool_reserved = ?, version = version + 1 WHERE id = ? AND version = ?",
		change.PoolReserved, itemID, state.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %s version %d", storage.ErrConflict, itemID, state.Version)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// FindClaim retrieves a claim by ID.
func (s *SQLiteStore) FindClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	c := &models.Claim{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, bill_id, item_id, participant_id, quantity, created_at FROM claims WHERE id = ?",
		claimID,
	).Scan(&c.ID, &c.BillID, &c.ItemID, &c.ParticipantID, &c.Quantity, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: claim %s", storage.ErrNotFound, claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

// GetBillSnapshot reads a bill and every claim and membership on it inside
// one read transaction.
func (s *SQLiteStore) GetBillSnapshot(ctx context.Context, billID string) (*models.BillSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer tx.Rollback()

	bill, err := getBill(ctx, tx, billID)
	if err != nil {
		return nil, err
	}

	claims, err := queryClaims(ctx, tx, "WHERE bill_id = ?", billID)
	if err != nil {
		return nil, err
	}

	members, err := queryMembers(ctx, tx,
		"WHERE item_id IN (SELECT id FROM items WHERE bill_id = ?)", billID)
	if err != nil {
		return nil, err
	}

	return &models.BillSnapshot{Bill: *bill, Claims: claims, Members: members}, nil
}

func readItemState(ctx context.Context, q querier, itemID string) (*models.ItemState, error) {
	state := &models.ItemState{}
	row := q.QueryRowContext(ctx,
		`SELECT i.id, i.bill_id, i.name, i.category, i.type, i.unit_price, i.quantity,
		        i.pool_reserved, i.confidence, i.notes, i.version, b.locked
		 FROM items i JOIN bills b ON b.id = i.bill_id
		 WHERE i.id = ?`,
		itemID,
	)

	var category, itemType string
	err := row.Scan(&state.Item.ID, &state.Item.BillID, &state.Item.Name, &category, &itemType,
		&state.Item.UnitPrice, &state.Item.Quantity, &state.Item.PoolReserved,
		&state.Item.Confidence, &state.Item.Notes, &state.Version, &state.BillLocked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", storage.ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", translate(err))
	}
	state.Item.Category = models.ItemCategory(category)
	state.Item.Type = models.ItemType(itemType)

	state.Claims, err = queryClaims(ctx, q, "WHERE item_id = ?", itemID)
	if err != nil {
		return nil, err
	}
	state.Members, err = queryMembers(ctx, q, "WHERE item_id = ?", itemID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func queryClaims(ctx context.Context, q querier, where string, args ...any) ([]models.Claim, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, bill_id, item_id, participant_id, quantity, created_at FROM claims "+where+" ORDER BY created_at, rowid",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", translate(err))
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.ID, &c.BillID, &c.ItemID, &c.ParticipantID, &c.Quantity, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func queryMembers(ctx context.Context, q querier, where string, args ...any) ([]models.SharedPoolMembership, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, item_id, participant_id, joined_at FROM shared_members "+where+" ORDER BY joined_at, rowid",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared members: %w", translate(err))
	}
	defer rows.Close()

	var members []models.SharedPoolMembership
	for rows.Next() {
		var m models.SharedPoolMembership
		if err := rows.Scan(&m.ID, &m.ItemID, &m.ParticipantID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shared member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shared members: %w", err)
	}
	return members, nil
}
