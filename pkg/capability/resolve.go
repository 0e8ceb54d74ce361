package capability

import (
	"errors"
	"strings"
)

// ErrCapabilityUnknown is returned when neither a capability name, a
// recognizable URL, nor a recognizable feature label resolves. Callers fail
// closed on it.
var ErrCapabilityUnknown = errors.New("unknown_capability")

// routeCapabilities is the declared URL -> capability table. Resolution
// walks the request path upward segment by segment, so the longest declared
// prefix wins.
var routeCapabilities = map[string]string{
	"/rfps":              "view_rfp",
	"/rfps/reports":      "view_rfp_reports",
	"/rfps/templates":    "manage_rfp_templates",
	"/proposals":         "view_proposals",
	"/workflows":         "view_rfp",
	"/approval-requests": "approve_rfp",
	"/stages":            "approve_rfp",

	"/contracts":           "view_contracts",
	"/contracts/payments":  "view_contract_payments",
	"/contracts/documents": "view_contract_documents",

	"/vendors":                "view_vendors",
	"/vendors/contacts":       "view_vendor_contacts",
	"/vendors/documents":      "view_vendor_documents",
	"/vendors/performance":    "view_vendor_performance",
	"/vendors/questionnaires": "view_vendor_questionnaires",

	"/risks":          "view_risks",
	"/risks/register": "view_risk_register",
	"/risks/matrix":   "view_risk_matrix",

	"/compliance":          "view_compliance",
	"/compliance/controls": "view_compliance_controls",
	"/compliance/evidence": "view_compliance_evidence",
	"/compliance/findings": "view_compliance_findings",

	"/bcp":       "view_bcp_plans",
	"/bcp/tests": "view_bcp_test_results",
	"/drp":       "view_drp_plans",

	"/slas":          "view_slas",
	"/slas/breaches": "view_sla_breaches",

	"/users":           "view_users",
	"/roles":           "view_roles",
	"/permissions":     "view_permissions",
	"/access-requests": "view_access_requests",
	"/audit-logs":      "view_audit_logs",
	"/settings":        "view_system_settings",
}

// featureKeywords is the closed vocabulary for free-form feature labels.
// Order matters: more specific keywords are probed first.
var featureKeywords = []struct {
	keyword   string
	operation string
}{
	{"vendor", "view_vendors"},
	{"contract", "view_contracts"},
	{"rfp", "view_rfp"},
	{"proposal", "view_proposals"},
	{"risk", "view_risks"},
	{"compliance", "view_compliance"},
	{"bcp", "view_bcp_plans"},
	{"drp", "view_drp_plans"},
	{"sla", "view_slas"},
}

// Resolve maps a request for access onto a single capability. Resolution
// order: explicit capability name, then URL mapping, then feature-label
// mapping. A caller providing none of these is treated as providing no
// capability and is denied.
func Resolve(name, url, feature string) (Capability, error) {
	if name != "" {
		if cap, ok := Lookup(name); ok {
			return cap, nil
		}
		return Capability{}, ErrCapabilityUnknown
	}
	if url != "" {
		if cap, ok := ResolveURL(url); ok {
			return cap, nil
		}
	}
	if feature != "" {
		if cap, ok := ResolveFeature(feature); ok {
			return cap, nil
		}
	}
	return Capability{}, ErrCapabilityUnknown
}

// ResolveURL maps a URL path to a capability via longest-prefix matching
// over the declared route table.
func ResolveURL(url string) (Capability, bool) {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" || !strings.HasPrefix(path, "/") {
		return Capability{}, false
	}

	for path != "" {
		if op, ok := routeCapabilities[path]; ok {
			return Lookup(op)
		}
		i := strings.LastIndex(path, "/")
		if i <= 0 {
			break
		}
		path = path[:i]
	}
	return Capability{}, false
}

// ResolveFeature maps a free-form feature label to a capability via the
// keyword vocabulary. Unknown labels do not resolve.
func ResolveFeature(label string) (Capability, bool) {
	label = strings.ToLower(label)
	for _, entry := range featureKeywords {
		if strings.Contains(label, entry.keyword) {
			return Lookup(entry.operation)
		}
	}
	return Capability{}, false
}
