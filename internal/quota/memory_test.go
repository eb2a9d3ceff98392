package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/api/internal/models"
)

func testDefaults() Defaults {
	return Defaults{
		models.ResourceImage: {Policy: models.QuotaPolicyLimited, Limit: 100},
		models.ResourceVideo: {Policy: models.QuotaPolicyLimited, Limit: 50},
	}
}

func TestTryReserve_ChargesOnGrant(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	require.NoError(t, ledger.TryReserve(ctx, "alice", models.ResourceImage))

	q, err := ledger.Get(ctx, "alice", models.ResourceImage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Used)
}

func TestTryReserve_DeniedReportsNumbers(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	limit := int64(1)
	_, err := ledger.SetPolicy(ctx, "bob", models.ResourceVideo, models.QuotaPolicyLimited, &limit)
	require.NoError(t, err)

	require.NoError(t, ledger.TryReserve(ctx, "bob", models.ResourceVideo))

	err = ledger.TryReserve(ctx, "bob", models.ResourceVideo)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, int64(1), denied.Used)
	assert.Equal(t, int64(1), denied.Limit)

	// Denied attempts leave used untouched.
	q, err := ledger.Get(ctx, "bob", models.ResourceVideo)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Used)
}

func TestTryReserve_ConcurrentNeverOverspends(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	limit := int64(7)
	_, err := ledger.SetPolicy(ctx, "carol", models.ResourceVideo, models.QuotaPolicyLimited, &limit)
	require.NoError(t, err)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.TryReserve(ctx, "carol", models.ResourceVideo); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int(limit), granted)

	q, err := ledger.Get(ctx, "carol", models.ResourceVideo)
	require.NoError(t, err)
	assert.Equal(t, limit, q.Used)
}

func TestRelease_RefundsExactlyOne(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	require.NoError(t, ledger.TryReserve(ctx, "dave", models.ResourceImage))
	require.NoError(t, ledger.TryReserve(ctx, "dave", models.ResourceImage))
	require.NoError(t, ledger.Release(ctx, "dave", models.ResourceImage))

	q, err := ledger.Get(ctx, "dave", models.ResourceImage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Used)
}

func TestRelease_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	require.NoError(t, ledger.TryReserve(ctx, "erin", models.ResourceImage))
	require.NoError(t, ledger.Release(ctx, "erin", models.ResourceImage))
	require.NoError(t, ledger.Release(ctx, "erin", models.ResourceImage))

	q, err := ledger.Get(ctx, "erin", models.ResourceImage)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Used)
}

func TestZeroLimit_DeniesFirstAttempt(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	zero := int64(0)
	_, err := ledger.SetPolicy(ctx, "frank", models.ResourceVideo, models.QuotaPolicyLimited, &zero)
	require.NoError(t, err)

	err = ledger.TryReserve(ctx, "frank", models.ResourceVideo)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, int64(0), denied.Limit)
	assert.Contains(t, denied.Error(), "set to 0")
}

func TestUnlimited_GrantsWithoutCharging(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	_, err := ledger.SetPolicy(ctx, "grace", models.ResourceVideo, models.QuotaPolicyUnlimited, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, ledger.TryReserve(ctx, "grace", models.ResourceVideo))
	}

	q, err := ledger.Get(ctx, "grace", models.ResourceVideo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Used)
	assert.Nil(t, q.Remaining())
}

func TestSetPolicy_RejectsInvalidLimit(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	negative := int64(-1)
	_, err := ledger.SetPolicy(ctx, "henry", models.ResourceImage, models.QuotaPolicyLimited, &negative)
	assert.True(t, errors.Is(err, ErrInvalidLimit))

	_, err = ledger.SetPolicy(ctx, "henry", models.ResourceImage, models.QuotaPolicyLimited, nil)
	assert.True(t, errors.Is(err, ErrInvalidLimit))
}

func TestReset_ZeroesUsedKeepsPolicy(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	limit := int64(3)
	_, err := ledger.SetPolicy(ctx, "iris", models.ResourceImage, models.QuotaPolicyLimited, &limit)
	require.NoError(t, err)

	require.NoError(t, ledger.TryReserve(ctx, "iris", models.ResourceImage))
	require.NoError(t, ledger.TryReserve(ctx, "iris", models.ResourceImage))
	require.NoError(t, ledger.Reset(ctx, "iris", models.ResourceImage))

	q, err := ledger.Get(ctx, "iris", models.ResourceImage)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Used)
	require.NotNil(t, q.Limit)
	assert.Equal(t, limit, *q.Limit)
}

func TestDefaults_MaterializedLazily(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	q, err := ledger.Get(ctx, "newuser", models.ResourceVideo)
	require.NoError(t, err)
	assert.Equal(t, models.QuotaPolicyLimited, q.Policy)
	require.NotNil(t, q.Limit)
	assert.Equal(t, int64(50), *q.Limit)
	assert.Equal(t, int64(0), q.Used)
}

func TestProvision_CreatesAllDefaults(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(testDefaults())

	require.NoError(t, ledger.Provision(ctx, "judy"))

	quotas, err := ledger.GetAll(ctx, "judy")
	require.NoError(t, err)
	assert.Len(t, quotas, 2)
}
