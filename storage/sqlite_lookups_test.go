package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sip/core"
)

func newTestLookups(t *testing.T) *LookupStorage {
	t.Helper()
	return NewLookupStorage(newTestSQLite(t), zap.NewNop().Sugar())
}

func TestLookupValueCRUD(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	created, err := lookups.CreateValue(ctx, core.KindTag, "phishing")
	require.NoError(t, err)
	assert.Equal(t, "phishing", created.Value)

	var conflict *core.ConflictError
	_, err = lookups.CreateValue(ctx, core.KindTag, "phishing")
	require.ErrorAs(t, err, &conflict)

	got, err := lookups.GetValue(ctx, core.KindTag, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Value, got.Value)

	_, err = lookups.CreateValue(ctx, core.KindTag, "apt")
	require.NoError(t, err)

	// Listed in value order.
	values, err := lookups.ListValues(ctx, core.KindTag)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "apt", values[0].Value)
	assert.Equal(t, "phishing", values[1].Value)

	updated, err := lookups.UpdateValue(ctx, core.KindTag, created.ID, "spearphishing")
	require.NoError(t, err)
	assert.Equal(t, "spearphishing", updated.Value)

	// Renaming onto an existing value is a conflict.
	_, err = lookups.UpdateValue(ctx, core.KindTag, created.ID, "apt")
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, lookups.DeleteValue(ctx, core.KindTag, created.ID))

	var notFound *core.NotFoundError
	_, err = lookups.GetValue(ctx, core.KindTag, created.ID)
	require.ErrorAs(t, err, &notFound)
	require.ErrorAs(t, lookups.DeleteValue(ctx, core.KindTag, created.ID), &notFound)
}

func TestLookupValueKindsAreSeparate(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	// The same value can exist in different tables.
	_, err := lookups.CreateValue(ctx, core.KindIndicatorConfidence, "LOW")
	require.NoError(t, err)
	_, err = lookups.CreateValue(ctx, core.KindIndicatorImpact, "LOW")
	require.NoError(t, err)

	confidences, err := lookups.ListValues(ctx, core.KindIndicatorConfidence)
	require.NoError(t, err)
	require.Len(t, confidences, 1)
}

func TestCampaignCRUD(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	created, err := lookups.CreateCampaign(ctx, "WinterStorm")
	require.NoError(t, err)
	assert.False(t, created.CreatedTime.IsZero())

	var conflict *core.ConflictError
	_, err = lookups.CreateCampaign(ctx, "WinterStorm")
	require.ErrorAs(t, err, &conflict)

	updated, err := lookups.UpdateCampaign(ctx, created.ID, "SummerStorm")
	require.NoError(t, err)
	assert.Equal(t, "SummerStorm", updated.Name)
	assert.True(t, !updated.ModifiedTime.Before(created.ModifiedTime))

	require.NoError(t, lookups.DeleteCampaign(ctx, created.ID))

	var notFound *core.NotFoundError
	_, err = lookups.GetCampaign(ctx, created.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestUserLifecycle(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	created, err := lookups.CreateUser(ctx, "analyst")
	require.NoError(t, err)
	assert.NotEmpty(t, created.APIKey)
	assert.True(t, created.Active)

	var conflict *core.ConflictError
	_, err = lookups.CreateUser(ctx, "analyst")
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, lookups.SetUserActive(ctx, "analyst", false))
	got, err := lookups.GetUser(ctx, "analyst")
	require.NoError(t, err)
	assert.False(t, got.Active)

	var notFound *core.NotFoundError
	require.ErrorAs(t, lookups.SetUserActive(ctx, "ghost", true), &notFound)

	require.NoError(t, lookups.DeleteUser(ctx, "analyst"))
	_, err = lookups.GetUser(ctx, "analyst")
	require.ErrorAs(t, err, &notFound)
}

func TestGetUserByAPIKey(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	created, err := lookups.CreateUser(ctx, "analyst")
	require.NoError(t, err)

	got, err := lookups.GetUserByAPIKey(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "analyst", got.Username)
	assert.True(t, got.Active)

	// An unknown key is an authentication failure, not a lookup miss.
	var unauthorized *core.UnauthorizedError
	_, err = lookups.GetUserByAPIKey(ctx, "bogus")
	require.ErrorAs(t, err, &unauthorized)

	// The key still resolves after deactivation; callers check Active.
	require.NoError(t, lookups.SetUserActive(ctx, "analyst", false))
	got, err = lookups.GetUserByAPIKey(ctx, created.APIKey)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestIntelReferenceCRUD(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	_, err := lookups.CreateUser(ctx, "analyst")
	require.NoError(t, err)

	// The source must already exist for direct reference creation.
	var notFound *core.NotFoundError
	_, err = lookups.CreateIntelReference(ctx, core.ReferenceSpec{Source: "OSINT", Reference: "r1"}, "analyst", "")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, core.KindIntelSource, notFound.Kind)

	_, err = lookups.CreateValue(ctx, core.KindIntelSource, "OSINT")
	require.NoError(t, err)
	_, err = lookups.CreateValue(ctx, core.KindIntelSource, "VendorX")
	require.NoError(t, err)

	created, err := lookups.CreateIntelReference(ctx, core.ReferenceSpec{Source: "OSINT", Reference: "r1"}, "analyst", "")
	require.NoError(t, err)
	assert.Equal(t, "analyst", created.User)

	// Duplicate within the same source conflicts; the same reference string
	// under another source is fine.
	var conflict *core.ConflictError
	_, err = lookups.CreateIntelReference(ctx, core.ReferenceSpec{Source: "OSINT", Reference: "r1"}, "analyst", "")
	require.ErrorAs(t, err, &conflict)
	_, err = lookups.CreateIntelReference(ctx, core.ReferenceSpec{Source: "VendorX", Reference: "r1"}, "analyst", "")
	require.NoError(t, err)

	refs, err := lookups.ListIntelReferences(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	require.NoError(t, lookups.DeleteIntelReference(ctx, created.ID))
	_, err = lookups.GetIntelReference(ctx, created.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestIntelReferenceInactiveUser(t *testing.T) {
	lookups := newTestLookups(t)
	ctx := context.Background()

	_, err := lookups.CreateUser(ctx, "analyst")
	require.NoError(t, err)
	_, err = lookups.CreateValue(ctx, core.KindIntelSource, "OSINT")
	require.NoError(t, err)
	require.NoError(t, lookups.SetUserActive(ctx, "analyst", false))

	var unauthorized *core.UnauthorizedError
	_, err = lookups.CreateIntelReference(ctx, core.ReferenceSpec{Source: "OSINT", Reference: "r1"}, "analyst", "")
	require.ErrorAs(t, err, &unauthorized)
}
