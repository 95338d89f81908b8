package provider

const (
	Okta        = "okta"
	GitHub      = "github"
	CrowdStrike = "crowdstrike"
	AzureAD     = "azure_ad"
	Snyk        = "snyk"
	Jamf        = "jamf"
	BambooHR    = "bamboohr"
	Datadog     = "datadog"
)

const snykVersion = "2024-10-15"

// Catalog returns the built-in provider definitions.
func Catalog() []Provider {
	return []Provider{
		{
			ID:       Okta,
			Name:     "Okta",
			Category: "identity",
			BaseURL:  "https://{domain}",
			Auth:     AuthSSWS,
			Endpoints: []Endpoint{
				{DataType: "users", Path: "/api/v1/users?limit=200", Pagination: PaginationLinkHeader},
				{DataType: "groups", Path: "/api/v1/groups?limit=200", Pagination: PaginationLinkHeader},
				{DataType: "applications", Path: "/api/v1/apps?limit=200", Pagination: PaginationLinkHeader},
				{DataType: "password_policies", Path: "/api/v1/policies?type=PASSWORD"},
			},
		},
		{
			ID:       GitHub,
			Name:     "GitHub",
			Category: "source_control",
			BaseURL:  "https://api.github.com",
			Auth:     AuthBearer,
			Endpoints: []Endpoint{
				{DataType: "members", Path: "/orgs/{organization}/members?per_page=100", Pagination: PaginationLinkHeader},
				{DataType: "members_without_2fa", Path: "/orgs/{organization}/members?filter=2fa_disabled&per_page=100", Pagination: PaginationLinkHeader},
				{DataType: "repositories", Path: "/orgs/{organization}/repos?per_page=100", Pagination: PaginationLinkHeader},
				{DataType: "dependabot_alerts", Path: "/orgs/{organization}/dependabot/alerts?state=open&per_page=100", Pagination: PaginationLinkHeader},
			},
		},
		{
			ID:       CrowdStrike,
			Name:     "CrowdStrike Falcon",
			Category: "edr",
			BaseURL:  "https://api.crowdstrike.com",
			Auth:     AuthOAuth2ClientCredentials,
			TokenURL: "/oauth2/token",
			Endpoints: []Endpoint{
				{DataType: "devices", Path: "/devices/combined/devices/v1?limit=500", Pagination: PaginationOffset},
				{DataType: "detections", Path: "/alerts/combined/alerts/v1?limit=500", Pagination: PaginationOffset},
			},
		},
		{
			ID:       AzureAD,
			Name:     "Microsoft Entra ID",
			Category: "identity",
			BaseURL:  "https://graph.microsoft.com/v1.0",
			Auth:     AuthOAuth2ClientCredentials,
			TokenURL: "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token",
			Scopes:   []string{"https://graph.microsoft.com/.default"},
			Endpoints: []Endpoint{
				{DataType: "users", Path: "/users?$select=id,accountEnabled,userType&$top=999", Pagination: PaginationCursor},
				{DataType: "devices", Path: "/devices?$top=999", Pagination: PaginationCursor},
				{DataType: "conditional_access_policies", Path: "/identity/conditionalAccess/policies"},
				{DataType: "managed_devices", Path: "/deviceManagement/managedDevices", Pagination: PaginationCursor},
			},
		},
		{
			ID:       Snyk,
			Name:     "Snyk",
			Category: "vulnerability",
			BaseURL:  "https://api.snyk.io",
			Auth:     AuthToken,
			Endpoints: []Endpoint{
				{DataType: "issues", Path: "/rest/orgs/{organization}/issues?limit=100&version=" + snykVersion, Pagination: PaginationCursor},
				{DataType: "projects", Path: "/rest/orgs/{organization}/projects?limit=100&version=" + snykVersion, Pagination: PaginationCursor},
			},
		},
		{
			ID:       Jamf,
			Name:     "Jamf Pro",
			Category: "mdm",
			BaseURL:  "https://{subdomain}.jamfcloud.com",
			Auth:     AuthBearer,
			Endpoints: []Endpoint{
				{DataType: "computers", Path: "/api/v1/computers-inventory?section=SECURITY&section=DISK_ENCRYPTION&page-size=2000", Pagination: PaginationOffset},
				{DataType: "mobile_devices", Path: "/api/v2/mobile-devices?page-size=2000", Pagination: PaginationOffset},
			},
		},
		{
			ID:       BambooHR,
			Name:     "BambooHR",
			Category: "hr",
			BaseURL:  "https://api.bamboohr.com/api/gateway.php/{subdomain}",
			Auth:     AuthBasicAPIKey,
			Endpoints: []Endpoint{
				{DataType: "employees", Path: "/v1/employees/directory"},
			},
		},
		{
			ID:           Datadog,
			Name:         "Datadog Cloud SIEM",
			Category:     "siem",
			BaseURL:      "https://api.datadoghq.com",
			Auth:         AuthAPIKeyHeader,
			APIKeyHeader: "DD-API-KEY",
			AppKeyHeader: "DD-APPLICATION-KEY",
			Endpoints: []Endpoint{
				{DataType: "security_signals", Path: "/api/v2/security_monitoring/signals?page[limit]=1000", Pagination: PaginationCursor},
				{DataType: "detection_rules", Path: "/api/v2/security_monitoring/rules?page[size]=100", Pagination: PaginationOffset},
			},
		},
	}
}

// Default returns a registry holding the built-in catalog.
func Default() *Registry {
	return MustNewRegistry(Catalog()...)
}
