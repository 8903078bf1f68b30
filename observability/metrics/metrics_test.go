package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveOperationRecordsSuccessAndErrorOutcomes(t *testing.T) {
	c := Default()

	okBefore := testutil.ToFloat64(c.requests.WithLabelValues("borrow", "ok"))
	c.ObserveOperation("borrow", nil, 10*time.Millisecond)
	require.Equal(t, okBefore+1, testutil.ToFloat64(c.requests.WithLabelValues("borrow", "ok")))

	errBefore := testutil.ToFloat64(c.errors.WithLabelValues("borrow"))
	errRequestsBefore := testutil.ToFloat64(c.requests.WithLabelValues("borrow", "error"))
	c.ObserveOperation("borrow", errors.New("unhealthy position"), 5*time.Millisecond)
	require.Equal(t, errBefore+1, testutil.ToFloat64(c.errors.WithLabelValues("borrow")))
	require.Equal(t, errRequestsBefore+1, testutil.ToFloat64(c.requests.WithLabelValues("borrow", "error")))
}

func TestDefaultReturnsTheSameSingletonInstance(t *testing.T) {
	require.Same(t, Default(), Default())
}
