package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/storage/memory"
)

type erroringMappings struct{ err error }

func (e erroringMappings) AccountIDForCustomer(context.Context, string) (string, error) { return "", e.err }
func (e erroringMappings) CustomerIDForAccount(context.Context, string) (string, error) { return "", e.err }
func (e erroringMappings) PutCustomerMapping(context.Context, *billing.CustomerMapping) error {
	return e.err
}

func TestResolver_Resolve(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.PutCustomerMapping(context.Background(), &billing.CustomerMapping{
		ProviderCustomerID: "cus_1",
		AccountID:          "acct_mapped",
	}))
	resolver := billing.NewResolver(store, nil)

	tests := []struct {
		name    string
		ref     billing.AccountRef
		want    string
		wantErr error
	}{
		{"metadata wins", billing.AccountRef{AccountID: "acct_meta", CustomerID: "cus_1"}, "acct_meta", nil},
		{"mapping fallback", billing.AccountRef{CustomerID: "cus_1"}, "acct_mapped", nil},
		{"unknown customer", billing.AccountRef{CustomerID: "cus_unknown"}, "", billing.ErrAccountUnresolved},
		{"nothing to go on", billing.AccountRef{}, "", billing.ErrAccountUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_StoreFailureIsNotUnresolved(t *testing.T) {
	resolver := billing.NewResolver(erroringMappings{err: errors.New("timeout")}, nil)

	_, err := resolver.Resolve(context.Background(), billing.AccountRef{CustomerID: "cus_1"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrAccountUnresolved)
}

func TestResolver_NilMappingStore(t *testing.T) {
	resolver := billing.NewResolver(nil, nil)

	_, err := resolver.Resolve(context.Background(), billing.AccountRef{CustomerID: "cus_1"})

	assert.ErrorIs(t, err, billing.ErrAccountUnresolved)
}
