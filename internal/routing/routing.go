// Package routing turns a classified request into a role: free text and
// labels become one work category, then the category picks the first role
// whose accepted-trust set admits the request.
package routing

import (
	"fmt"
	"log/slog"
	"strings"

	wardenErrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/request"
)

// Intent is one of the work categories a request can resolve to.
type Intent string

const (
	IntentTriage      Intent = "triage"
	IntentGovernance  Intent = "governance"
	IntentReview      Intent = "review"
	IntentDevelopment Intent = "development"
	IntentMaintenance Intent = "maintenance"
	IntentUnknown     Intent = "unknown"
)

// labelIntents maps structured labels to categories. Labels always beat
// free-text keywords; the approved-for-dev variants are the explicit
// authorization signal that work may proceed as development.
var labelIntents = map[string]Intent{
	"approved-for-dev":         IntentDevelopment,
	"approved-for-development": IntentDevelopment,
	"governance":               IntentGovernance,
	"needs-review":             IntentReview,
	"maintenance":              IntentMaintenance,
	"triage":                   IntentTriage,
}

// keywordRules are evaluated in priority order: the most specific
// categories first, triage last because it is the reception default.
var keywordRules = []struct {
	intent   Intent
	keywords []string
}{
	{IntentGovernance, []string{"governance", "policy", "charter", "rfc", "proposal", "vote"}},
	{IntentDevelopment, []string{"implement", "fix", "bug", "feature", "develop", "patch"}},
	{IntentReview, []string{"review", "pull request", "merge", "approve"}},
	{IntentMaintenance, []string{"dependency", "upgrade", "chore", "cleanup", "refactor", "maintenance"}},
	{IntentTriage, []string{"triage", "new issue", "label", "categorize", "duplicate"}},
}

// defaultRoles is the built-in category to role-candidate table, used
// when the project declares no routing override for the category.
var defaultRoles = map[Intent][]string{
	IntentTriage:      {"reception", "maintainer"},
	IntentGovernance:  {"maintainer"},
	IntentReview:      {"maintainer"},
	IntentDevelopment: {"engineer", "maintainer"},
	IntentMaintenance: {"engineer", "maintainer"},
}

// ClassifyIntent maps the request's labels and free text to a category.
func ClassifyIntent(req *request.Request) Intent {
	for _, label := range strings.Split(req.Payload[request.PayloadLabels], ",") {
		if intent, ok := labelIntents[strings.ToLower(strings.TrimSpace(label))]; ok {
			return intent
		}
	}

	text := strings.ToLower(req.Intent)
	for _, rule := range keywordRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(text, keyword) {
				return rule.intent
			}
		}
	}
	return IntentUnknown
}

// FindBestRole picks the role for a category: the project's routing
// override first, else the built-in defaults, first candidate accepting
// the request's trust. When the category resolves nothing, the fallback
// chain is the first configured role accepting the trust, then a role
// literally named reception. Exhausting the chain is a configuration
// error, never a silent resolution.
func FindBestRole(proj *project.Project, intent Intent, trust request.TrustLevel) (*project.Role, error) {
	candidates, ok := proj.Routing[string(intent)]
	if !ok {
		candidates = defaultRoles[intent]
	}

	for _, name := range candidates {
		if role := proj.Role(name); role != nil && role.AcceptsTrust(trust) {
			return role, nil
		}
	}

	for _, role := range proj.Roles {
		if role.AcceptsTrust(trust) {
			return role, nil
		}
	}

	if role := proj.Role("reception"); role != nil {
		return role, nil
	}

	return nil, wardenErrors.Configuration(fmt.Sprintf(
		"project %s has no role accepting %s requests (intent %s)", proj.Name, trust, intent))
}

// Route classifies the request and resolves its role in one step.
func Route(req *request.Request, proj *project.Project) (*project.Role, Intent, error) {
	intent := ClassifyIntent(req)

	role, err := FindBestRole(proj, intent, req.Trust)
	if err != nil {
		return nil, intent, err
	}

	slog.Debug("Request routed",
		"project", proj.Name,
		"intent", string(intent),
		"role", role.Name,
		"trust", req.Trust.String())
	return role, intent, nil
}
