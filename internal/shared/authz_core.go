package shared

// Core platform permissions.
const (
	PermPermissionsView = "permissions.view"

	PermNotificationsAdmin = "notifications.admin"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermPermissionsView,
		PermNotificationsAdmin,
	}
}

// CatalogScopes returns every permission the service declares.
func CatalogScopes() []string {
	return append(CoreScopes(), DocumentScopes()...)
}
