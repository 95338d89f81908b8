package normalize

import (
	"github.com/tidwall/gjson"

	"integration_syncer/internal/domain"
	"integration_syncer/internal/provider"
)

// SOC 2 trust services criteria referenced by the built-in rules.
const (
	ctrlBoardOversight   = "CC1.4"
	ctrlLogicalAccess    = "CC6.1"
	ctrlUserProvisioning = "CC6.2"
	ctrlAccessRemoval    = "CC6.3"
	ctrlBoundary         = "CC6.6"
	ctrlDataProtection   = "CC6.7"
	ctrlMalware          = "CC6.8"
	ctrlVulnMgmt         = "CC7.1"
	ctrlMonitoring       = "CC7.2"
	ctrlIncident         = "CC7.3"
	ctrlChangeMgmt       = "CC8.1"
)

// Default returns a registry with the rules for every built-in provider.
func Default() *Registry {
	r := NewRegistry()

	r.Register(provider.Okta, "users", oktaUsers)
	r.Register(provider.Okta, "groups", countOnly("", ctrlLogicalAccess, ctrlAccessRemoval))
	r.Register(provider.Okta, "applications", oktaApplications)
	r.Register(provider.Okta, "password_policies", oktaPasswordPolicies)

	r.Register(provider.GitHub, "members", countOnly("", ctrlLogicalAccess, ctrlUserProvisioning))
	r.Register(provider.GitHub, "members_without_2fa", githubMembersWithout2FA)
	r.Register(provider.GitHub, "repositories", githubRepositories)
	r.Register(provider.GitHub, "dependabot_alerts", severityBreakdown("", "security_advisory.severity", ctrlVulnMgmt))

	r.Register(provider.CrowdStrike, "devices", crowdstrikeDevices)
	r.Register(provider.CrowdStrike, "detections", crowdstrikeDetections)

	r.Register(provider.AzureAD, "users", azureUsers)
	r.Register(provider.AzureAD, "devices", azureDevices)
	r.Register(provider.AzureAD, "conditional_access_policies", azureConditionalAccess)
	r.Register(provider.AzureAD, "managed_devices", azureManagedDevices)

	r.Register(provider.Snyk, "issues", severityBreakdown("data", "attributes.effective_severity_level", ctrlVulnMgmt))
	r.Register(provider.Snyk, "projects", countOnly("data", ctrlVulnMgmt, ctrlChangeMgmt))

	r.Register(provider.Jamf, "computers", jamfComputers)
	r.Register(provider.Jamf, "mobile_devices", jamfMobileDevices)

	r.Register(provider.BambooHR, "employees", bamboohrEmployees)

	r.Register(provider.Datadog, "security_signals", severityBreakdown("data", "attributes.status", ctrlMonitoring, ctrlIncident))
	r.Register(provider.Datadog, "detection_rules", datadogRules)

	return r
}

func countOnly(path string, controls ...string) Func {
	return func(raw []byte) (domain.Normalized, error) {
		list, err := items(raw, path)
		if err != nil {
			return domain.Normalized{}, err
		}
		return domain.Normalized{
			Summary:          map[string]any{"total": len(list)},
			MappedControlIDs: controls,
		}, nil
	}
}

func severityBreakdown(path, field string, controls ...string) Func {
	return func(raw []byte) (domain.Normalized, error) {
		list, err := items(raw, path)
		if err != nil {
			return domain.Normalized{}, err
		}
		return domain.Normalized{
			Summary: map[string]any{
				"total":      len(list),
				"bySeverity": groupBy(list, field),
			},
			MappedControlIDs: controls,
		}, nil
	}
}

func oktaUsers(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":         len(list),
			"active":        countWhere(list, "status", equals("ACTIVE")),
			"suspended":     countWhere(list, "status", equals("SUSPENDED")),
			"lockedOut":     countWhere(list, "status", equals("LOCKED_OUT")),
			"deprovisioned": countWhere(list, "status", equals("DEPROVISIONED")),
		},
		MappedControlIDs: []string{ctrlLogicalAccess, ctrlUserProvisioning, ctrlAccessRemoval},
	}, nil
}

func oktaApplications(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":  len(list),
			"active": countWhere(list, "status", equals("ACTIVE")),
		},
		MappedControlIDs: []string{ctrlLogicalAccess, ctrlBoundary},
	}, nil
}

func oktaPasswordPolicies(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":            len(list),
			"active":           countWhere(list, "status", equals("ACTIVE")),
			"maxMinimumLength": maxInt(list, "settings.password.complexity.minLength"),
		},
		MappedControlIDs: []string{ctrlLogicalAccess},
	}, nil
}

func githubMembersWithout2FA(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":        len(list),
			"mfaEnforced":  len(list) == 0,
			"logins":      logins(list),
		},
		MappedControlIDs: []string{ctrlLogicalAccess},
	}, nil
}

func logins(list []gjson.Result) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, item.Get("login").String())
	}
	return out
}

func githubRepositories(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":    len(list),
			"private":  countWhere(list, "private", isTrue),
			"archived": countWhere(list, "archived", isTrue),
		},
		MappedControlIDs: []string{ctrlChangeMgmt, ctrlLogicalAccess},
	}, nil
}

func crowdstrikeDevices(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "resources")
	if err != nil {
		return domain.Normalized{}, err
	}
	total := gjson.GetBytes(raw, "meta.pagination.total").Int()
	if total == 0 {
		total = int64(len(list))
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":      total,
			"returned":   len(list),
			"normal":     countWhere(list, "status", equals("normal")),
			"contained":  countWhere(list, "status", equals("contained")),
			"byPlatform": groupBy(list, "platform_name"),
		},
		MappedControlIDs: []string{ctrlMalware, ctrlVulnMgmt},
	}, nil
}

func crowdstrikeDetections(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "resources")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":      len(list),
			"new":        countWhere(list, "status", equals("new")),
			"inProgress": countWhere(list, "status", equals("in_progress")),
			"bySeverity": groupBy(list, "severity_name"),
		},
		MappedControlIDs: []string{ctrlMonitoring, ctrlIncident},
	}, nil
}

func azureUsers(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "value")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":   len(list),
			"enabled": countWhere(list, "accountEnabled", isTrue),
			"guests":  countWhere(list, "userType", equals("Guest")),
		},
		MappedControlIDs: []string{ctrlLogicalAccess, ctrlUserProvisioning},
	}, nil
}

func azureDevices(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "value")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":     len(list),
			"compliant": countWhere(list, "isCompliant", isTrue),
			"managed":   countWhere(list, "isManaged", isTrue),
		},
		MappedControlIDs: []string{ctrlMalware},
	}, nil
}

func azureConditionalAccess(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "value")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":      len(list),
			"enabled":    countWhere(list, "state", equals("enabled")),
			"reportOnly": countWhere(list, "state", equals("enabledForReportingButNotEnforced")),
		},
		MappedControlIDs: []string{ctrlLogicalAccess, ctrlBoundary},
	}, nil
}

func azureManagedDevices(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "value")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":     len(list),
			"compliant": countWhere(list, "complianceState", equals("compliant")),
			"encrypted": countWhere(list, "isEncrypted", isTrue),
		},
		MappedControlIDs: []string{ctrlDataProtection, ctrlMalware},
	}, nil
}

func jamfComputers(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "results")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":           gjson.GetBytes(raw, "totalCount").Int(),
			"returned":        len(list),
			"fileVaultOn":     countWhere(list, "diskEncryption.bootPartitionEncryptionDetails.partitionFileVault2State", equals("ENCRYPTED")),
			"firewallEnabled": countWhere(list, "security.firewallEnabled", isTrue),
			"sipEnabled":      countWhere(list, "security.sipStatus", equals("ENABLED")),
		},
		MappedControlIDs: []string{ctrlDataProtection, ctrlMalware},
	}, nil
}

func jamfMobileDevices(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "results")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":    gjson.GetBytes(raw, "totalCount").Int(),
			"returned": len(list),
			"managed":  countWhere(list, "managed", isTrue),
		},
		MappedControlIDs: []string{ctrlMalware},
	}, nil
}

func bamboohrEmployees(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "employees")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":        len(list),
			"byDepartment": groupBy(list, "department"),
		},
		MappedControlIDs: []string{ctrlBoardOversight, ctrlUserProvisioning, ctrlAccessRemoval},
	}, nil
}

func datadogRules(raw []byte) (domain.Normalized, error) {
	list, err := items(raw, "data")
	if err != nil {
		return domain.Normalized{}, err
	}
	return domain.Normalized{
		Summary: map[string]any{
			"total":   len(list),
			"enabled": countWhere(list, "isEnabled", isTrue),
		},
		MappedControlIDs: []string{ctrlMonitoring},
	}, nil
}
