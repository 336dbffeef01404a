// Package orchestrator is the authenticated REST client for a tenant:
// client-credentials token acquisition with lazy refresh, package upload,
// listing, and download. One Client per tenant; the token lease is owned by
// the client and refreshed under a per-tenant lock.
package orchestrator

import "fmt"

// Tenant describes one orchestrator environment. The client secret is
// excluded from serialization so tenants can appear in reports safely.
type Tenant struct {
	Name         string `json:"name" yaml:"name" validate:"required"`
	OrgName      string `json:"orgName" yaml:"orgName" validate:"required"`
	BaseURL      string `json:"baseUrl" yaml:"baseUrl" validate:"required,url"`
	ClientID     string `json:"-" yaml:"clientId" validate:"required"`
	ClientSecret string `json:"-" yaml:"clientSecret" validate:"required"`
	Scope        string `json:"-" yaml:"scope"`
}

// String identifies the tenant without exposing credentials.
func (t Tenant) String() string {
	return fmt.Sprintf("%s/%s", t.OrgName, t.Name)
}

// PublishStatus is the outcome of one upload attempt.
type PublishStatus string

const (
	// PublishCreated means the package did not exist and was uploaded.
	PublishCreated PublishStatus = "created"

	// PublishAlreadyExists means an identical package was already
	// published; the upload was an idempotent no-op.
	PublishAlreadyExists PublishStatus = "alreadyExists"
)
