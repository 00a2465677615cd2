package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatchGroupAndClone(t *testing.T) {
	now := time.Now().UTC()
	b := &Batch{
		ID:       "b",
		OrderIDs: []string{"o1", "o2"},
		MerchantGroups: []MerchantGroup{{
			GroupID:      "g1",
			PaymentRails: []PaymentRail{RailUPI},
			OrderIDs:     []string{"o1", "o2"},
			Status:       GroupPending,
		}},
	}
	b.SetStatus(BatchGrouped, "", now)

	require.Nil(t, b.Group("missing"))
	g := b.Group("g1")
	require.NotNil(t, g)

	c := b.Clone()
	c.Group("g1").Status = GroupExpired
	c.Group("g1").OrderIDs[0] = "x"
	c.SetStatus(BatchSplit, "", now.Add(-time.Second))

	require.Equal(t, GroupPending, b.Group("g1").Status)
	require.Equal(t, "o1", b.Group("g1").OrderIDs[0])
	require.Len(t, b.StatusHistory, 1)
	require.Equal(t, now, c.StatusHistory[1].Timestamp)
}
