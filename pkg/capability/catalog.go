package capability

import (
	"strings"
	"unicode"
)

// BusinessModule identifies one of the GRC business modules a capability
// belongs to
type BusinessModule string

const (
	ModuleRFP        BusinessModule = "rfp"
	ModuleContract   BusinessModule = "contract"
	ModuleVendor     BusinessModule = "vendor"
	ModuleRisk       BusinessModule = "risk"
	ModuleCompliance BusinessModule = "compliance"
	ModuleBCPDRP     BusinessModule = "bcp_drp"
	ModuleSystem     BusinessModule = "system"
	ModuleSLA        BusinessModule = "sla"
)

// Modules returns all business modules in declaration order
func Modules() []BusinessModule {
	return []BusinessModule{
		ModuleRFP, ModuleContract, ModuleVendor, ModuleRisk,
		ModuleCompliance, ModuleBCPDRP, ModuleSystem, ModuleSLA,
	}
}

// Capability is one named boolean permission. Canonical names take the form
// "<module>.<operation>"; Column is the stable wide-table column identity.
//
// This table is the single authoritative mapping between canonical names,
// column names, and modules. Nothing else in the codebase may replicate it.
type Capability struct {
	Canonical string
	Column    string
	Module    BusinessModule
}

// FullName returns the canonical "<module>.<operation>" form
func (c Capability) FullName() string {
	return string(c.Module) + "." + c.Canonical
}

// moduleFlags declares every capability flag, grouped by module. Operation
// names are globally unique so a bare operation name resolves without a
// module hint.
var moduleFlags = map[BusinessModule][]string{
	ModuleRFP: {
		"view_rfp", "create_rfp", "edit_rfp", "delete_rfp",
		"publish_rfp", "close_rfp", "approve_rfp", "reject_rfp",
		"view_proposals", "submit_proposal", "evaluate_proposals", "compare_proposals",
		"shortlist_proposals", "award_rfp", "view_rfp_reports", "export_rfp_reports",
		"manage_rfp_templates", "view_rfp_timeline", "extend_rfp_deadline", "invite_vendors_to_rfp",
		"view_rfp_questions", "answer_rfp_questions", "view_rfp_audit_log", "archive_rfp",
	},
	ModuleContract: {
		"view_contracts", "create_contract", "edit_contract", "delete_contract",
		"approve_contract", "terminate_contract", "renew_contract", "amend_contract",
		"view_contract_milestones", "manage_contract_milestones", "view_contract_deliverables", "manage_contract_deliverables",
		"view_contract_payments", "manage_contract_payments", "view_contract_renewals", "export_contracts",
		"upload_contract_documents", "view_contract_documents", "manage_contract_templates", "view_contract_obligations",
		"manage_contract_obligations", "view_contract_audit_log", "flag_contract_risk", "archive_contract",
	},
	ModuleVendor: {
		"view_vendors", "add_vendor", "edit_vendor", "delete_vendor",
		"approve_vendor", "suspend_vendor", "view_vendor_contacts", "manage_vendor_contacts",
		"view_vendor_documents", "upload_vendor_documents", "view_vendor_performance", "rate_vendor_performance",
		"view_vendor_questionnaires", "send_vendor_questionnaires", "review_vendor_questionnaires", "view_vendor_certifications",
		"manage_vendor_certifications", "view_vendor_spend", "export_vendors", "onboard_vendor",
		"offboard_vendor", "view_vendor_risk_profile", "manage_vendor_categories", "view_vendor_audit_log",
	},
	ModuleRisk: {
		"view_risks", "create_risk", "edit_risk", "delete_risk",
		"assess_risk", "accept_risk", "mitigate_risk", "escalate_risk",
		"view_risk_register", "manage_risk_register", "view_risk_matrix", "configure_risk_matrix",
		"view_risk_treatments", "manage_risk_treatments", "view_risk_indicators", "manage_risk_indicators",
		"view_risk_reports", "export_risk_reports", "assign_risk_owner", "review_risk",
		"close_risk", "view_risk_appetite", "manage_risk_appetite", "view_risk_audit_log",
	},
	ModuleCompliance: {
		"view_compliance", "create_compliance_item", "edit_compliance_item", "delete_compliance_item",
		"view_compliance_frameworks", "manage_compliance_frameworks", "view_compliance_controls", "manage_compliance_controls",
		"test_compliance_controls", "view_compliance_evidence", "upload_compliance_evidence", "approve_compliance_evidence",
		"view_compliance_findings", "manage_compliance_findings", "remediate_findings", "view_compliance_calendar",
		"manage_compliance_calendar", "view_compliance_reports", "export_compliance_reports", "schedule_compliance_audits",
		"conduct_compliance_audits", "view_compliance_policies", "manage_compliance_policies", "view_compliance_audit_log",
	},
	ModuleBCPDRP: {
		"view_bcp_plans", "create_bcp_plan", "edit_bcp_plan", "delete_bcp_plan",
		"approve_bcp_plan", "view_drp_plans", "create_drp_plan", "edit_drp_plan",
		"delete_drp_plan", "approve_drp_plan", "schedule_bcp_tests", "run_bcp_tests",
		"record_bcp_test_results", "view_bcp_test_results", "view_business_impact_analysis", "manage_business_impact_analysis",
		"view_recovery_objectives", "manage_recovery_objectives", "declare_incident", "manage_incident_response",
		"view_bcp_reports", "export_bcp_reports",
	},
	ModuleSystem: {
		"view_users", "create_user", "edit_user", "deactivate_user",
		"view_roles", "manage_roles", "view_permissions", "manage_permissions",
		"grant_access", "revoke_access", "view_access_requests", "approve_access_requests",
		"view_tenants", "manage_tenants", "view_system_settings", "manage_system_settings",
		"view_integrations", "manage_integrations", "view_audit_logs", "export_audit_logs",
		"view_notifications", "manage_notifications", "view_workflows_admin", "manage_workflows_admin",
	},
	ModuleSLA: {
		"view_slas", "create_sla", "edit_sla", "delete_sla",
		"approve_sla", "view_sla_targets", "manage_sla_targets", "view_sla_breaches",
		"record_sla_breach", "waive_sla_breach", "view_sla_credits", "manage_sla_credits",
		"view_sla_reports", "export_sla_reports", "view_sla_reviews", "schedule_sla_reviews",
		"conduct_sla_reviews", "view_sla_escalations", "manage_sla_escalations", "view_sla_audit_log",
	},
}

var (
	catalog       []Capability
	byOperation   map[string]Capability // "view_vendors"
	byFullName    map[string]Capability // "vendor.view_vendors"
	columnsCached []string
)

func init() {
	byOperation = make(map[string]Capability)
	byFullName = make(map[string]Capability)
	for _, module := range Modules() {
		for _, op := range moduleFlags[module] {
			cap := Capability{Canonical: op, Column: op, Module: module}
			catalog = append(catalog, cap)
			byOperation[op] = cap
			byFullName[cap.FullName()] = cap
			columnsCached = append(columnsCached, cap.Column)
		}
	}
}

// All returns every declared capability in stable order
func All() []Capability {
	return catalog
}

// Columns returns every wide-table column name in stable order
func Columns() []string {
	return columnsCached
}

// ByModule returns the capabilities declared for one module
func ByModule(module BusinessModule) []Capability {
	ops := moduleFlags[module]
	caps := make([]Capability, 0, len(ops))
	for _, op := range ops {
		caps = append(caps, byOperation[op])
	}
	return caps
}

// Lookup resolves a capability by name. It accepts the canonical
// "<module>.<operation>" form, a bare operation name, or a
// database-column-style PascalCase name (normalized to snake_case).
func Lookup(name string) (Capability, bool) {
	name = Normalize(name)
	if cap, ok := byFullName[name]; ok {
		return cap, true
	}
	if cap, ok := byOperation[name]; ok {
		return cap, true
	}
	return Capability{}, false
}

// Normalize lowercases a name and converts PascalCase to snake_case;
// snake_case input passes through unchanged.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if !strings.ContainsFunc(name, unicode.IsUpper) {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 && name[i-1] != '.' && name[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
