package service

import (
	"context"
	"testing"

	"github.com/smallbiznis/splitledger/internal/affiliate/domain"
	"github.com/smallbiznis/splitledger/internal/affiliate/repository"
	"github.com/smallbiznis/splitledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordAndGetAffiliateSplit(t *testing.T) {
	svc := NewService(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  repository.Provide(),
	})
	ctx := context.Background()

	none, err := svc.GetAffiliateSplit(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = svc.RecordCommission(ctx, 10, "aff_1", 250)
	require.NoError(t, err)

	_, err = svc.RecordCommission(ctx, 10, "aff_2", 100)
	assert.ErrorIs(t, err, domain.ErrAlreadyRecorded)

	got, err := svc.GetAffiliateSplit(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "aff_1", got.AffiliateID)
	assert.Equal(t, int64(250), got.AmountCents)
}

func TestRecordCommissionValidates(t *testing.T) {
	svc := NewService(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  repository.Provide(),
	})

	_, err := svc.RecordCommission(context.Background(), 10, " ", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidAffiliate)
	_, err = svc.RecordCommission(context.Background(), 10, "aff", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
