package domain

// SubjectType differentiates company users from staff.
type SubjectType string

const (
	SubjectTypeCompanyUser SubjectType = "COMPANY_USER"
	SubjectTypeStaff       SubjectType = "STAFF"
	SubjectTypeSystem      SubjectType = "SYSTEM"
)

// Role enumerates authorization groups.
type Role string

const (
	RoleClient        Role = "CV_CLIENT"
	RoleClerk         Role = "PPC_CLERK"
	RoleSupervisor    Role = "PPC_SUPERVISOR"
	RoleSystemAdmin   Role = "SYSTEM_ADMIN"
	RoleSystemProcess Role = "SYSTEM"
)

// Actor identifies who performs an operation. It is passed explicitly into
// every lifecycle and queue call.
type Actor struct {
	ID        string
	Type      SubjectType
	Role      Role
	CompanyID string
}

// IsStaff reports whether the actor is internal staff.
func (a Actor) IsStaff() bool {
	return a.Type == SubjectTypeStaff || a.Type == SubjectTypeSystem
}

// IsElevated reports whether the actor may override claims and revoke permits.
func (a Actor) IsElevated() bool {
	return a.Role == RoleSupervisor || a.Role == RoleSystemAdmin || a.Role == RoleSystemProcess
}

// CanActForCompany reports whether the actor may touch companyID's records.
func (a Actor) CanActForCompany(companyID string) bool {
	if a.IsStaff() {
		return true
	}
	return a.CompanyID != "" && a.CompanyID == companyID
}

// SystemActor is used for transitions driven by gateway callbacks.
func SystemActor() Actor {
	return Actor{ID: "system", Type: SubjectTypeSystem, Role: RoleSystemProcess}
}
