package types

import "fmt"

// RunningInstance is an agent-managed OS process discovered by the scanner.
// It only lives for one reconciliation cycle.
type RunningInstance struct {
	PID  string // As reported by the OS process listing.
	Name string // Recovered from the identity system property.
}

func (r RunningInstance) String() string {
	return fmt.Sprintf("%s(pid=%s)", r.Name, r.PID)
}

// ArtifactKind selects the control-plane collection an artifact is served from.
type ArtifactKind string

const (
	ArtifactDeployment ArtifactKind = "deployment"
	ArtifactLibrary    ArtifactKind = "library"
)

// Extension is the file extension used when staging an artifact of this kind.
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactDeployment:
		return "war"
	case ArtifactLibrary:
		return "jar"
	default:
		return ""
	}
}

func (k ArtifactKind) Valid() bool {
	return k.Extension() != ""
}
