package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleLeader    UserRole = "LEADER"
	RoleSecretary UserRole = "SECRETARY"
	RoleProfessor UserRole = "PROFESSOR"
	RoleStudent   UserRole = "STUDENT"
)

// UserInfo describes an authenticated user as seen by this service. User
// accounts themselves live in the identity service; only the reference and
// role matter here.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
