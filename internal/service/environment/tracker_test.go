package environment

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
)

func TestNewTracker(t *testing.T) {
	tr := NewTracker("sar-api", "1.2.0", claim.EnvironmentAWS)
	info := tr.Snapshot()

	assert.Equal(t, "sar-api", info.ServiceName)
	assert.Equal(t, claim.EnvironmentAWS, info.Deployment)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Hostname)
	assert.False(t, info.CapturedAt.IsZero())
}

func TestNewTracker_UnknownDeploymentFallsBack(t *testing.T) {
	tr := NewTracker("sar-api", "dev", "gcp")
	assert.Equal(t, claim.EnvironmentOnPrem, tr.Deployment())
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewStaticTracker(Info{ServiceName: "a"})
	snap := tr.Snapshot()
	snap.ServiceName = "b"

	assert.Equal(t, "a", tr.Snapshot().ServiceName)
	assert.Equal(t, "a", tr.Snapshot().Map()["service_name"])
}
