package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAuthzDecision(t *testing.T) {
	deny := AuthzDecisionsTotal.WithLabelValues("Observation", "Read", "{Patient}", "deny")
	allow := AuthzDecisionsTotal.WithLabelValues("Observation", "Read", "{Patient}", "allow")
	beforeDeny, beforeAllow := testutil.ToFloat64(deny), testutil.ToFloat64(allow)

	RecordAuthzDecision("Observation", "Read", "{Patient}", false)
	RecordAuthzDecision("Observation", "Read", "{Patient}", true)
	RecordAuthzDecision("Observation", "Read", "{Patient}", true)

	assert.Equal(t, beforeDeny+1, testutil.ToFloat64(deny))
	assert.Equal(t, beforeAllow+2, testutil.ToFloat64(allow))
}

func TestRecordHTTPRequest(t *testing.T) {
	c := HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	before := testutil.ToFloat64(c)

	RecordHTTPRequest("GET", "", 404, 2*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordResourceOperationAndLogin(t *testing.T) {
	op := ResourceOperationsTotal.WithLabelValues("Patient", "create", "ok")
	before := testutil.ToFloat64(op)
	RecordResourceOperation("Patient", "create", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(op))

	fail := LoginAttemptsTotal.WithLabelValues("failure")
	before = testutil.ToFloat64(fail)
	RecordLogin(false)
	assert.Equal(t, before+1, testutil.ToFloat64(fail))
}
