package quota

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plfm/plfm/pkg/types"
)

func TestQuotaErrorCarriesIPv4Dimension(t *testing.T) {
	err := &types.QuotaError{
		Dimension:      DimIPv4Allocations,
		Limit:          1,
		CurrentUsage:   1,
		RequestedDelta: 1,
	}

	assert.True(t, errors.Is(err, types.ErrQuotaExceeded))
	assert.Equal(t, "quota_exceeded", types.ErrorCode(err))
	assert.Equal(t, "max_ipv4_allocations", err.Dimension)
	assert.Contains(t, err.Error(), "max_ipv4_allocations")
}

func TestQuotaErrorDetailRoundTrips(t *testing.T) {
	err := &types.QuotaError{Dimension: DimInstances, Limit: 10, CurrentUsage: 9, RequestedDelta: 3}

	var qe *types.QuotaError
	assert.True(t, errors.As(error(err), &qe))
	assert.Equal(t, int64(10), qe.Limit)
	assert.Equal(t, int64(9), qe.CurrentUsage)
	assert.Equal(t, int64(3), qe.RequestedDelta)
}
