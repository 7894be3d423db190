package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront-api/internal/config"
)

func TestBucketingManager(t *testing.T) {
	bm := NewBucketingManager(config.BucketingConfig{AccountBuckets: 16, EventBuckets: 4})

	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("acc-%d", i)
		b := bm.GetAccountBucket(id)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 16)
		require.Equal(t, b, bm.GetAccountBucket(id))
		seen[b] = true

		e := bm.GetEventBucket(id)
		require.Less(t, e, 4)
	}
	require.Len(t, seen, 16)

	day := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("x", -3600))
	require.Equal(t, "2026-03-02", bm.GetDateBucket(day))
}

func TestBucketingManager_ZeroConfig(t *testing.T) {
	bm := NewBucketingManager(config.BucketingConfig{})
	require.Equal(t, 0, bm.GetAccountBucket("anything"))
	require.Equal(t, 1, bm.AccountBuckets())
}
