package result_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/groupbuy/groupbuy-client/internal/result"
	"github.com/stretchr/testify/assert"
)

func TestResult_Failed(t *testing.T) {
	testCases := []struct {
		name         string
		result       result.Result[string]
		expectFailed bool
		expectError  error
	}{
		{
			name:         "success returns not failed",
			result:       result.NewSuccess("data", ""),
			expectFailed: false,
		},
		{
			name:         "cancelled returns not failed",
			result:       result.NewCancelled[string](),
			expectFailed: false,
		},
		{
			name:         "failed returns failed with error",
			result:       result.NewFailed[string](assert.AnError),
			expectFailed: true,
			expectError:  assert.AnError,
		},
		{
			name:         "queued returns failed with error",
			result:       result.NewQueued[string](assert.AnError),
			expectFailed: true,
			expectError:  assert.AnError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err, failed := tc.result.Failed()
			assert.Equal(t, tc.expectFailed, failed)
			assert.Equal(t, tc.expectError, err)
		})
	}
}

func TestResult_Data(t *testing.T) {
	testCases := []struct {
		name       string
		result     result.Result[string]
		expectOk   bool
		expectData string
	}{
		{
			name:       "success returns data and true",
			result:     result.NewSuccess("payload", "ok"),
			expectOk:   true,
			expectData: "payload",
		},
		{
			name:   "cancelled returns false",
			result: result.NewCancelled[string](),
		},
		{
			name:   "failed returns false",
			result: result.NewFailed[string](assert.AnError),
		},
		{
			name:   "queued returns false",
			result: result.NewQueued[string](assert.AnError),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, ok := tc.result.Data()
			assert.Equal(t, tc.expectOk, ok)
			assert.Equal(t, tc.expectData, data)
		})
	}
}

func TestResult_Flags(t *testing.T) {
	r := result.NewSuccess(1, "created")
	assert.Equal(t, "created", r.Message())
	assert.False(t, r.FromCache())
	assert.True(t, r.WithCache().FromCache())
	assert.False(t, r.FromCache(), "WithCache must not modify the receiver")

	cancelled := result.NewCancelled[int]()
	assert.True(t, cancelled.Cancelled())
	assert.Equal(t, result.StatusCancelled, cancelled.Status())
	assert.Equal(t, "cancelled", cancelled.Status().String())

	queued := result.NewQueued[int](errors.New("offline"))
	assert.True(t, queued.Queued())
	assert.Equal(t, "offline", queued.Message())
}

func TestMap(t *testing.T) {
	t.Run("converts success", func(t *testing.T) {
		r := result.Map(result.NewSuccess("42", "msg").WithCache(), strconv.Atoi)

		data, ok := r.Data()
		assert.True(t, ok)
		assert.Equal(t, 42, data)
		assert.Equal(t, "msg", r.Message())
		assert.True(t, r.FromCache())
	})

	t.Run("conversion error fails", func(t *testing.T) {
		r := result.Map(result.NewSuccess("forty-two", ""), strconv.Atoi)

		err, failed := r.Failed()
		assert.True(t, failed)
		assert.ErrorContains(t, err, "invalid syntax")
	})

	t.Run("carries cancellation", func(t *testing.T) {
		r := result.Map(result.NewCancelled[string](), strconv.Atoi)
		assert.True(t, r.Cancelled())
	})

	t.Run("carries failure", func(t *testing.T) {
		r := result.Map(result.NewFailed[string](assert.AnError), strconv.Atoi)
		err, failed := r.Failed()
		assert.True(t, failed)
		assert.Equal(t, assert.AnError, err)
	})
}
