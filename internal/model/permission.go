package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionStudentsRead allows viewing students, their semesters and stats.
	PermissionStudentsRead Permission = "students:read"

	// PermissionStudentsWrite allows registering students.
	PermissionStudentsWrite Permission = "students:write"

	// PermissionSemestersWrite allows submitting and deleting semesters.
	PermissionSemestersWrite Permission = "semesters:write"

	// PermissionAggregatesReconcile allows triggering aggregate reconciliation.
	PermissionAggregatesReconcile Permission = "aggregates:reconcile"
)

// AllPermissions lists every permission code, for tokens issued to operators.
var AllPermissions = []Permission{
	PermissionStudentsRead,
	PermissionStudentsWrite,
	PermissionSemestersWrite,
	PermissionAggregatesReconcile,
}
