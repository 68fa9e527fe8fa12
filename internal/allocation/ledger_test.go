package allocation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmynk/tabsplit/internal/models"
)

func TestCheckConservation(t *testing.T) {
	member := models.SharedPoolMembership{ID: "m1", ItemID: "i1", ParticipantID: "p1"}
	claim := models.Claim{ID: "c1", ItemID: "i1", ParticipantID: "p1", Quantity: 2}

	tests := []struct {
		name    string
		state   *models.ItemState
		wantErr error
	}{
		{
			name: "claims and pool fit",
			state: &models.ItemState{
				Item:    models.Item{ID: "i1", Quantity: 4, PoolReserved: 2},
				Claims:  []models.Claim{claim},
				Members: []models.SharedPoolMembership{member},
			},
		},
		{
			name: "over-allocated",
			state: &models.ItemState{
				Item:    models.Item{ID: "i1", Quantity: 3, PoolReserved: 2},
				Claims:  []models.Claim{claim},
				Members: []models.SharedPoolMembership{member},
			},
			wantErr: ErrInsufficientQuantity,
		},
		{
			name:    "pool without members",
			state:   &models.ItemState{Item: models.Item{ID: "i1", Quantity: 4, PoolReserved: 2}},
			wantErr: ErrInconsistentState,
		},
		{
			name: "members without reservation",
			state: &models.ItemState{
				Item:    models.Item{ID: "i1", Quantity: 4},
				Members: []models.SharedPoolMembership{member},
			},
			wantErr: ErrInconsistentState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkConservation(tt.state)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			// classify must not turn the failure into a retryable one.
			classified := classify(err)
			assert.ErrorIs(t, classified, tt.wantErr)
			assert.False(t, errors.Is(classified, ErrUnavailable))
		})
	}
}
