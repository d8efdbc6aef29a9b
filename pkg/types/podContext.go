package types

// PodContext identifies the pod and the user an operation runs for.
type PodContext struct {
	Name    string
	User    string
	RootDir string
}
