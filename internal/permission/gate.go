// Package permission resolves microphone and camera authorization before
// any call action proceeds.
package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
)

// Resource is a capturable device the platform guards with an
// authorization prompt.
type Resource string

const (
	ResourceMicrophone Resource = "microphone"
	ResourceCamera     Resource = "camera"
)

// Status mirrors the platform authorization states.
type Status string

const (
	StatusUndetermined Status = "undetermined"
	StatusGranted      Status = "granted"
	StatusDenied       Status = "denied"
	StatusRestricted   Status = "restricted"
)

// Authorizer is the platform capability behind the gate. Request blocks
// until the user responds to the prompt.
type Authorizer interface {
	Status(res Resource) Status
	Request(ctx context.Context, res Resource) (granted bool, err error)
}

// Gate answers whether a call of a given kind may touch capture devices.
// The platform forbids prompting for the same resource twice, so the
// gate tracks which resources it already prompted for and never asks
// again: once denied, always denied until the user flips it in system
// settings.
type Gate struct {
	auth Authorizer

	mu       sync.Mutex
	prompted map[Resource]bool
}

func NewGate(auth Authorizer) *Gate {
	return &Gate{
		auth:     auth,
		prompted: make(map[Resource]bool),
	}
}

// Ensure resolves authorization for every resource the call kind needs.
// Audio-only calls need the microphone; video calls need microphone and
// camera. Returns call.ErrPermissionDenied when any required resource is
// denied or restricted. Not retried automatically.
func (g *Gate) Ensure(ctx context.Context, kind call.Kind) error {
	resources := []Resource{ResourceMicrophone}
	if kind == call.KindVideo {
		resources = append(resources, ResourceCamera)
	}

	for _, res := range resources {
		if err := g.ensure(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) ensure(ctx context.Context, res Resource) error {
	switch g.auth.Status(res) {
	case StatusGranted:
		return nil
	case StatusDenied, StatusRestricted:
		return fmt.Errorf("%s: %w", res, call.ErrPermissionDenied)
	}

	g.mu.Lock()
	alreadyPrompted := g.prompted[res]
	g.prompted[res] = true
	g.mu.Unlock()

	if alreadyPrompted {
		// The prompt was shown before and the status is still not
		// granted; a second prompt is not permitted by the platform.
		return fmt.Errorf("%s: %w", res, call.ErrPermissionDenied)
	}

	granted, err := g.auth.Request(ctx, res)
	if err != nil {
		return fmt.Errorf("%s prompt: %w", res, err)
	}
	if !granted {
		return fmt.Errorf("%s: %w", res, call.ErrPermissionDenied)
	}
	return nil
}

// StaticAuthorizer answers from a fixed map and never prompts. The shell
// uses it in simulated mode; undetermined resources resolve to the
// configured default.
type StaticAuthorizer struct {
	Grants map[Resource]Status
}

func (a *StaticAuthorizer) Status(res Resource) Status {
	if s, ok := a.Grants[res]; ok {
		return s
	}
	return StatusUndetermined
}

func (a *StaticAuthorizer) Request(ctx context.Context, res Resource) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	return a.Status(res) != StatusDenied && a.Status(res) != StatusRestricted, nil
}
