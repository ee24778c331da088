// Package privacy provides mutation policies for tessera models.
//
// A policy is evaluated before an instance is created, updated or
// destroyed, so a rejected write never reaches the database. Apply installs
// a policy as hooks of a model:
//
//	err := privacy.Apply(posts, privacy.MutationPolicy{
//	    privacy.DenyIfNoViewer(),       // Require authentication
//	    privacy.HasRole("admin"),       // Allow admins
//	    privacy.IsOwner("user_id"),     // Allow owners
//	    privacy.AlwaysDenyRule(),       // Deny by default
//	})
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: Grants access and stops evaluation
//   - Deny: Denies access and stops evaluation
//   - Skip: Continues to the next rule
//
// Any other error stops the evaluation and is returned as is. If all rules
// return Skip, the mutation is allowed; end a policy with AlwaysDenyRule to
// deny by default. A denied write fails with a *tessera.PrivacyError that
// wraps the decision:
//
//	if tessera.IsPrivacyError(err) && errors.Is(err, privacy.Deny) { ... }
//
// # Owners and Tenants
//
// IsOwner and TenantRule compare a field with the viewer. On create they
// read the value being written; on update and destroy they read the stored
// value, so a record cannot be taken over by rewriting its owner.
//
// # Bypassing Policies
//
// DecisionContext attaches a decision that overrides every policy, which is
// useful for system tasks and migrations:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
//
// # Viewer Interface
//
// The Viewer interface represents the authenticated user:
//
//	type Viewer interface {
//	    GetID() string       // Unique user identifier
//	    GetRoles() []string  // User's roles
//	    GetTenantID() string // Tenant ID for multi-tenancy
//	}
//
// A SimpleViewer implementation is provided for basic use cases.
package privacy
