// Package bolt provides a bbolt-backed implementation of the storage.Store interface.
//
// Each item's allocation state (item row, claims, pool members, version) is
// one gob record, so UpdateItem is a single Get/Put inside one bbolt write
// transaction. bbolt admits one writer at a time; conflicts cannot occur.
package bolt

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

var (
	bucketBills        = []byte("bills")
	bucketItems        = []byte("items")
	bucketParticipants = []byte("participants")
	bucketClaims       = []byte("claims") // claim ID -> item ID
)

// Ensure BoltStore implements storage.Store
var _ storage.Store = (*BoltStore)(nil)

// BoltStore wraps a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// billRecord is the persisted form of a bill. Items and participants live
// in their own buckets and are referenced by ID in creation order.
type billRecord struct {
	ID               string
	Currency         string
	Locked           bool
	OrganizerKeyHash string
	CreatedAt        int64
	ItemIDs          []string
	ParticipantIDs   []string
}

// itemRecord is the persisted allocation state of one item.
type itemRecord struct {
	Item    models.Item
	Version int64
	Claims  []models.Claim
	Members []models.SharedPoolMembership
}

// Open opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBills, bucketItems, bucketParticipants, bucketClaims} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bolt: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// CreateBill persists a bill, its items and its participants.
func (s *BoltStore) CreateBill(ctx context.Context, bill *models.Bill) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bill.ID == "" {
		bill.ID = uuid.New().String()
	}
	if bill.CreatedAt == 0 {
		bill.CreatedAt = time.Now().Unix()
	}

	rec := billRecord{
		ID:               bill.ID,
		Currency:         bill.Currency,
		Locked:           bill.Locked,
		OrganizerKeyHash: bill.OrganizerKeyHash,
		CreatedAt:        bill.CreatedAt,
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketBills).Get([]byte(bill.ID)) != nil {
			return fmt.Errorf("bolt: bill %s already exists", bill.ID)
		}
		for i := range bill.Items {
			item := &bill.Items[i]
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			item.BillID = bill.ID
			if err := putGob(tx.Bucket(bucketItems), item.ID, itemRecord{Item: *item}); err != nil {
				return fmt.Errorf("bolt: put item: %w", err)
			}
			rec.ItemIDs = append(rec.ItemIDs, item.ID)
		}
		for i := range bill.Participants {
			p := &bill.Participants[i]
			p.BillID = bill.ID
			if err := putParticipant(tx, p); err != nil {
				return err
			}
			rec.ParticipantIDs = append(rec.ParticipantIDs, p.ID)
		}
		return putGob(tx.Bucket(bucketBills), bill.ID, rec)
	})
}

// GetBill retrieves a bill with its items and participants.
func (s *BoltStore) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var bill *models.Bill
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, _, err := readBill(tx, billID)
		bill = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// LockBill sets the bill's locked flag.
func (s *BoltStore) LockBill(ctx context.Context, billID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		var rec billRecord
		if err := getGob(tx.Bucket(bucketBills), billID, &rec); err != nil {
			return fmt.Errorf("%w: bill %s", err, billID)
		}
		rec.Locked = true
		return putGob(tx.Bucket(bucketBills), billID, rec)
	})
}

// AddParticipant persists a participant on an existing, open bill.
func (s *BoltStore) AddParticipant(ctx context.Context, participant *models.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		var rec billRecord
		if err := getGob(tx.Bucket(bucketBills), participant.BillID, &rec); err != nil {
			return fmt.Errorf("%w: bill %s", err, participant.BillID)
		}
		if rec.Locked {
			return fmt.Errorf("%w: bill %s", storage.ErrBillLocked, participant.BillID)
		}
		if err := putParticipant(tx, participant); err != nil {
			return err
		}
		rec.ParticipantIDs = append(rec.ParticipantIDs, participant.ID)
		return putGob(tx.Bucket(bucketBills), rec.ID, rec)
	})
}

// GetParticipant retrieves a participant by ID.
func (s *BoltStore) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p models.Participant
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := getGob(tx.Bucket(bucketParticipants), participantID, &p); err != nil {
			return fmt.Errorf("%w: participant %s", err, participantID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindClaim retrieves a claim by ID through the claim index.
func (s *BoltStore) FindClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var claim *models.Claim
	err := s.db.View(func(tx *bbolt.Tx) error {
		itemID := tx.Bucket(bucketClaims).Get([]byte(claimID))
		if itemID == nil {
			return fmt.Errorf("%w: claim %s", storage.ErrNotFound, claimID)
		}
		var rec itemRecord
		if err := getGob(tx.Bucket(bucketItems), string(itemID), &rec); err != nil {
			return fmt.Errorf("%w: item %s", err, itemID)
		}
		for _, c := range rec.Claims {
			if c.ID == claimID {
				claim = &c
				return nil
			}
		}
		return fmt.Errorf("%w: claim %s", storage.ErrNotFound, claimID)
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// GetItemState reads one item's allocation state.
func (s *BoltStore) GetItemState(ctx context.Context, itemID string) (*models.ItemState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var state *models.ItemState
	err := s.db.View(func(tx *bbolt.Tx) error {
		st, err := readItemState(tx, itemID)
		state = st
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateItem applies fn's change to the item record inside one write
// transaction. The claim index is kept in step with the record.
func (s *BoltStore) UpdateItem(ctx context.Context, itemID string, fn storage.MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		state, err := readItemState(tx, itemID)
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
		if err := ctx.Err(); err != nil {
			return err
		}

		claims := tx.Bucket(bucketClaims)
		if c := change.AddClaim; c != nil {
			if err := claims.Put([]byte(c.ID), []byte(itemID)); err != nil {
				return fmt.Errorf("bolt: index claim: %w", err)
			}
		}
		if change.RemoveClaimID != "" {
			if err := claims.Delete([]byte(change.RemoveClaimID)); err != nil {
				return fmt.Errorf("bolt: unindex claim: %w", err)
			}
		}

		next := state.Apply(change)
		rec := itemRecord{
			Item:    next.Item,
			Version: next.Version,
			Claims:  next.Claims,
			Members: next.Members,
		}
		if err := putGob(tx.Bucket(bucketItems), itemID, rec); err != nil {
			return fmt.Errorf("bolt: put item: %w", err)
		}
		return nil
	})
}

// GetBillSnapshot reads a bill and all of its allocations in one View.
func (s *BoltStore) GetBillSnapshot(ctx context.Context, billID string) (*models.BillSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap *models.BillSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bill, records, err := readBill(tx, billID)
		if err != nil {
			return err
		}
		snap = &models.BillSnapshot{Bill: *bill}
		for _, rec := range records {
			snap.Claims = append(snap.Claims, rec.Claims...)
			snap.Members = append(snap.Members, rec.Members...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func readBill(tx *bbolt.Tx, billID string) (*models.Bill, []itemRecord, error) {
	var rec billRecord
	if err := getGob(tx.Bucket(bucketBills), billID, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: bill %s", err, billID)
	}

	bill := &models.Bill{
		ID:               rec.ID,
		Currency:         rec.Currency,
		Locked:           rec.Locked,
		OrganizerKeyHash: rec.OrganizerKeyHash,
		CreatedAt:        rec.CreatedAt,
	}

	records := make([]itemRecord, 0, len(rec.ItemIDs))
	for _, id := range rec.ItemIDs {
		var ir itemRecord
		if err := getGob(tx.Bucket(bucketItems), id, &ir); err != nil {
			return nil, nil, fmt.Errorf("%w: item %s", err, id)
		}
		bill.Items = append(bill.Items, ir.Item)
		records = append(records, ir)
	}
	for _, id := range rec.ParticipantIDs {
		var p models.Participant
		if err := getGob(tx.Bucket(bucketParticipants), id, &p); err != nil {
			return nil, nil, fmt.Errorf("%w: participant %s", err, id)
		}
		bill.Participants = append(bill.Participants, p)
	}
	return bill, records, nil
}

func readItemState(tx *bbolt.Tx, itemID string) (*models.ItemState, error) {
	var rec itemRecord
	if err := getGob(tx.Bucket(bucketItems), itemID, &rec); err != nil {
		return nil, fmt.Errorf("%w: item %s", err, itemID)
	}
	var bill billRecord
	if err := getGob(tx.Bucket(bucketBills), rec.Item.BillID, &bill); err != nil {
		return nil, fmt.Errorf("%w: bill %s", err, rec.Item.BillID)
	}
	return &models.ItemState{
		Item:       rec.Item,
		BillLocked: bill.Locked,
		Version:    rec.Version,
		Claims:     rec.Claims,
		Members:    rec.Members,
	}, nil
}

func putParticipant(tx *bbolt.Tx, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	if err := putGob(tx.Bucket(bucketParticipants), p.ID, *p); err != nil {
		return fmt.Errorf("bolt: put participant: %w", err)
	}
	return nil
}

// getGob decodes the value stored under key. A missing key is storage.ErrNotFound.
func getGob(b *bbolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return storage.ErrNotFound
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("bolt: decode %s: %w", key, err)
	}
	return nil
}

func putGob(b *bbolt.Bucket, key string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("bolt: encode %s: %w", key, err)
	}
	return b.Put([]byte(key), buf.Bytes())
}
