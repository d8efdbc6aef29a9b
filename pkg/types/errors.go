package types

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrVersionNumberInvalid    = errors.New("invalid version number")
	ErrCorruptGraph            = errors.New("corrupt revision graph")
	ErrDiffComputationFailed   = errors.New("diff computation failed")
	ErrMergeCollaboratorFailed = errors.New("merge collaborator failed")
	ErrRevisionSealed          = errors.New("revision is sealed")
	ErrPodExists               = errors.New("pod already exists")
)
