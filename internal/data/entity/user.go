package entity

type UserRole string

const (
	RoleCustomer   UserRole = "CUSTOMER"
	RoleSupport    UserRole = "SUPPORT"
	RoleAdmin      UserRole = "ADMIN"
	RoleSuperAdmin UserRole = "SUPER_ADMIN"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleSupport, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

type User struct {
	Base
	Email        string   `db:"email" json:"email"`
	Name         string   `db:"name" json:"name"`
	PasswordHash string   `db:"password" json:"-"`
	Phone        *string  `db:"phone" json:"phone,omitempty"`
	Address      *string  `db:"address" json:"address,omitempty"`
	Role         UserRole `db:"role" json:"role"`
	IsVerified   bool     `db:"is_verified" json:"is_verified"`
}
