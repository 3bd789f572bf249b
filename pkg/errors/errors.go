// Package errors provides the standard error kinds for the engine.
//
// These sentinel errors allow callers to check for specific error conditions
// using errors.Is(), enabling programmatic error handling.
package errors

import "errors"

// Image and object store lookup errors
var (
	// ErrImageNotFound indicates the image reference does not resolve in the store.
	ErrImageNotFound = errors.New("image-not-found")

	// ErrLayerNotFound indicates a referenced layer commit is missing from the store.
	ErrLayerNotFound = errors.New("layer-not-found: please pull the image again")

	// ErrAmbiguousID indicates multiple image branches match the given id prefix.
	ErrAmbiguousID = errors.New("multiple images match prefix")

	// ErrManifestInvalidJSON indicates a manifest could not be parsed.
	ErrManifestInvalidJSON = errors.New("manifest-invalid-json")
)

// Checkout and configuration errors
var (
	// ErrConfigInvalid indicates a rendered config.json failed validation
	// (missing read-only root, or root.path not "rootfs").
	ErrConfigInvalid = errors.New("config-invalid")

	// ErrTemplateVariableUnresolved indicates a template referenced a variable
	// with no value after reserved and default substitution.
	ErrTemplateVariableUnresolved = errors.New("template-variable-unresolved")

	// ErrRuntimeMissing indicates the configured OCI runtime binary is absent.
	ErrRuntimeMissing = errors.New("runtime-missing")

	// ErrSupervisorMissingFeature indicates the supervisor adapter does not
	// support a requested mode (e.g. --user).
	ErrSupervisorMissingFeature = errors.New("supervisor-missing-feature")
)

// Registry errors
var (
	// ErrRegistryAuthFailed indicates a second 401 on the authorized retry.
	ErrRegistryAuthFailed = errors.New("registry-auth-failed")

	// ErrRegistryNetwork indicates a network-level failure talking to the registry.
	ErrRegistryNetwork = errors.New("registry-network")
)

// Deployment lifecycle errors
var (
	// ErrAlreadyInstalled indicates Install was called for a name with an
	// existing checkout.
	ErrAlreadyInstalled = errors.New("already-installed")

	// ErrNothingToUpgrade indicates the resolved image id and values are
	// unchanged from the active deployment.
	ErrNothingToUpgrade = errors.New("nothing-to-upgrade")

	// ErrNoPreviousDeployment indicates Rollback was called with no inactive
	// slot to roll back to.
	ErrNoPreviousDeployment = errors.New("no-previous-deployment")
)

// ErrInternal wraps conditions that should never occur in a correct engine.
var ErrInternal = errors.New("internal-error")
