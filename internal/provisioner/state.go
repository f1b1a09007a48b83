package provisioner

type State string

const (
	StateStart           State = "START"
	StateAuthenticated   State = "AUTHENTICATED"
	StatePolicyResolved  State = "POLICY_RESOLVED"
	StateCredentialReady State = "CREDENTIAL_READY"
	StateInstalled       State = "INSTALLED"
	StateAborted         State = "ABORTED"
)

func (s State) Terminal() bool {
	return s == StateInstalled || s == StateAborted
}

// Stage names the operation whose failure aborted a run.
type Stage string

const (
	StageAuthenticate  Stage = "authenticate"
	StageResolvePolicy Stage = "resolve_policy"
	StageCredential    Stage = "enrollment_credential"
	StageInstall       Stage = "install"
)
