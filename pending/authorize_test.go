package pending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"alephccn/pending"
	"alephccn/types"
)

type fakeSecurityLookup struct {
	content *types.SecurityContent
}

func (f fakeSecurityLookup) GetSecurityAggregate(context.Context, string) (*types.SecurityContent, error) {
	return f.content, nil
}

func TestAuthorizeSameSenderAndAddressAlwaysPasses(t *testing.T) {
	require.NoError(t, pending.Authorize(context.Background(), fakeSecurityLookup{}, "0xA", "0xA", types.TypeAggregate, "chan", "", "key"))
}

func TestAuthorizeNoDelegationRejected(t *testing.T) {
	err := pending.Authorize(context.Background(), fakeSecurityLookup{}, "0xB", "0xA", types.TypeAggregate, "chan", "", "key")
	require.Error(t, err)
}

func TestAuthorizeMatchingDelegationPasses(t *testing.T) {
	lookup := fakeSecurityLookup{content: &types.SecurityContent{Authorizations: []types.DelegationFilter{
		{Address: "0xB", Types: []string{"AGGREGATE"}, AggregateKeys: []string{"key"}},
	}}}
	require.NoError(t, pending.Authorize(context.Background(), lookup, "0xB", "0xA", types.TypeAggregate, "chan", "", "key"))
}

func TestAuthorizeWrongAggregateKeyRejected(t *testing.T) {
	lookup := fakeSecurityLookup{content: &types.SecurityContent{Authorizations: []types.DelegationFilter{
		{Address: "0xB", Types: []string{"AGGREGATE"}, AggregateKeys: []string{"other-key"}},
	}}}
	err := pending.Authorize(context.Background(), lookup, "0xB", "0xA", types.TypeAggregate, "chan", "", "key")
	require.Error(t, err)
}

func TestAuthorizeForgetDelegationSymmetric(t *testing.T) {
	lookup := fakeSecurityLookup{content: &types.SecurityContent{Authorizations: []types.DelegationFilter{
		{Address: "0xB", Types: []string{"FORGET"}},
	}}}
	require.NoError(t, pending.Authorize(context.Background(), lookup, "0xB", "0xA", types.TypeForget, "chan", "", ""))
}
