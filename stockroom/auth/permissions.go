package auth

import (
	"fmt"
	"net/http"

	"labstock/stockroom/schema"
	"labstock/utils"
)

// Role predicates. Authorization decisions are made over the closed role enum,
// never by comparing raw strings at call sites.

// IsManager reports whether the role may administer inventory and fulfill
// requests.
func IsManager(role schema.Role) bool {
	return role == schema.RoleAdmin || role == schema.RoleTA
}

func IsAdmin(role schema.Role) bool {
	return role == schema.RoleAdmin
}

// IsActive reports whether the account has been assigned a working role.
// PENDING accounts are quarantined from all protected operations.
func IsActive(role schema.Role) bool {
	return role != schema.RolePending
}

func requireRole(check func(schema.Role) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				utils.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}

			if !check(user.Role) {
				utils.WriteError(w, http.StatusForbidden, fmt.Sprintf(message, user.Id))
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func AdminOnly() func(http.Handler) http.Handler {
	return requireRole(IsAdmin, "user %v is not an admin")
}

func ManagerOnly() func(http.Handler) http.Handler {
	return requireRole(IsManager, "user %v is not an admin or ta")
}

func ActiveOnly() func(http.Handler) http.Handler {
	return requireRole(IsActive, "account %v is pending admin approval")
}
