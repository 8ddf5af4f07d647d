package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCryptoOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordCryptoOperation("encrypt", 10*time.Millisecond, 200000, 4)
	m.RecordCryptoOperation("encrypt", 5*time.Millisecond, 100, 1)
	m.RecordCryptoOperation("decrypt", 2*time.Millisecond, 65536, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cryptoOperations.WithLabelValues("encrypt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cryptoOperations.WithLabelValues("decrypt")))
	assert.Equal(t, 200100.0, testutil.ToFloat64(m.cryptoBytes.WithLabelValues("encrypt")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.cryptoFrames.WithLabelValues("encrypt")))
}

func TestRecordCryptoError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordCryptoError("decrypt", "authentication")
	m.RecordCryptoError("decrypt", "authentication")
	m.RecordCryptoError("decrypt", "malformed_header")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cryptoErrors.WithLabelValues("decrypt", "authentication")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cryptoErrors.WithLabelValues("decrypt", "malformed_header")))
}

func TestRecordRangedRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	// Two frames fetched to serve eight bytes.
	m.RecordRangedRequest(2*65568, 8)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rangedRequestsTotal))
	assert.Equal(t, float64(2*65568), testutil.ToFloat64(m.rangedBytesFetched))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.rangedBytesServed))
}

func TestRecordBackendOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg)

	m.RecordBackendOperation("get_object", 20*time.Millisecond)
	m.RecordBackendError("get_object", "not_found")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendOperationsTotal.WithLabelValues("get_object")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendOperationErrors.WithLabelValues("get_object", "not_found")))
}
