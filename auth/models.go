package auth

import "time"

// Role decides which side of the marketplace a user acts on.
type Role string

const (
	RoleHomeowner  Role = "homeowner"
	RoleContractor Role = "contractor"
)

func (r Role) Valid() bool {
	return r == RoleHomeowner || r == RoleContractor
}

// User mirrors a users row. PasswordHash never leaves the package boundary
// through the HTTP layer; cmd/api maps User to its own response type.
type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	Phone        *string
	Location     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RegisterRequest struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	UserType  Role    `json:"userType"`
	Phone     *string `json:"phone"`
	Location  *string `json:"location"`
}

// LoginRequest identifies the account by username, or by email when the
// username is empty.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
