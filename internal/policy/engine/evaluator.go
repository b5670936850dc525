package engine

import (
	"context"
)

// Bridge operations named in the access policy.
const (
	OpSyncCategories  = "SyncCategories"
	OpSyncCourses     = "SyncCourses"
	OpFullSync        = "FullSync"
	OpTestConnection  = "TestConnection"
	OpSiteInfo        = "SiteInfo"
	OpProvision       = "Provision"
	OpMintSSOURL      = "MintSSOURL"
	OpCourseAccessURL = "CourseAccessURL"
	OpListAuditLogs   = "ListAuditLogs"
)

// Caller is the authenticated principal making a request.
type Caller struct {
	ID   string
	Role string
}

// Input is what the access policy sees for one request.
type Input struct {
	Operation string
	Caller    Caller
	// Subject is the local user the operation acts on; empty for catalog operations.
	Subject string
	// Enrolled reports whether Subject is enrolled in the requested course for CourseAccessURL,
	// and in any course for Provision and MintSSOURL.
	Enrolled bool
}

// Decision is the policy outcome. Reason is set when Allow is false.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator authorizes bridge operations.
type Evaluator interface {
	Authorize(ctx context.Context, in Input) (Decision, error)
}
