// Package environment captures where the pipeline is running. A Tracker is
// built once at startup and handed to every service that stamps records.
package environment

import (
	"os"
	"runtime"
	"time"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
)

// Info is an immutable description of the running process.
type Info struct {
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version"`
	Deployment     claim.Environment `json:"deployment"`
	Hostname       string            `json:"hostname"`
	GoVersion      string            `json:"go_version"`
	OS             string            `json:"os"`
	Arch           string            `json:"arch"`
	PID            int               `json:"pid"`
	CapturedAt     time.Time         `json:"captured_at"`
}

// Map flattens the snapshot for audit payloads.
func (i Info) Map() map[string]any {
	return map[string]any{
		"service_name":    i.ServiceName,
		"service_version": i.ServiceVersion,
		"deployment":      string(i.Deployment),
		"hostname":        i.Hostname,
		"go_version":      i.GoVersion,
		"os":              i.OS,
		"arch":            i.Arch,
	}
}

type Tracker struct {
	info Info
}

// NewTracker captures the process environment. An unknown deployment falls
// back to on-prem.
func NewTracker(serviceName, serviceVersion string, deployment claim.Environment) *Tracker {
	switch deployment {
	case claim.EnvironmentOnPrem, claim.EnvironmentAWS, claim.EnvironmentMultiCloud:
	default:
		deployment = claim.EnvironmentOnPrem
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Tracker{info: Info{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Deployment:     deployment,
		Hostname:       host,
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		PID:            os.Getpid(),
		CapturedAt:     time.Now().UTC(),
	}}
}

// NewStaticTracker returns a tracker with a fixed snapshot, for tests and
// replay tooling.
func NewStaticTracker(info Info) *Tracker {
	return &Tracker{info: info}
}

// Snapshot returns a copy of the captured environment.
func (t *Tracker) Snapshot() Info {
	return t.info
}

func (t *Tracker) Deployment() claim.Environment {
	return t.info.Deployment
}
