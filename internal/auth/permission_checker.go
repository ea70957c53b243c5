package auth

const (
	PermissionPaymentsCreate = "payments:create"
	PermissionPaymentsRead   = "payments:read"
	PermissionPaymentsCancel = "payments:cancel"
	PermissionPaymentsRefund = "payments:refund"
	PermissionAdmin          = "admin"
)

// CashierPermissions is the default grant for a till operator.
var CashierPermissions = []string{PermissionPaymentsCreate, PermissionPaymentsRead, PermissionPaymentsCancel}

// SupervisorPermissions adds refunds on top of the cashier grant.
var SupervisorPermissions = []string{PermissionPaymentsCreate, PermissionPaymentsRead, PermissionPaymentsCancel, PermissionPaymentsRefund}

type PermissionChecker interface {
	HasAnyPermission(userPermissions []string, requiredPermissions []string) bool
	CanCancelPayments(userPermissions []string) bool
	CanRefundPayments(userPermissions []string) bool
}

type DefaultPermissionChecker struct{}

func NewPermissionChecker() PermissionChecker {
	return &DefaultPermissionChecker{}
}

// HasAnyPermission reports whether one of the required permissions is held. admin satisfies every check.
func (c *DefaultPermissionChecker) HasAnyPermission(userPermissions []string, requiredPermissions []string) bool {
	for _, userPerm := range userPermissions {
		if userPerm == PermissionAdmin {
			return true
		}
		for _, requiredPerm := range requiredPermissions {
			if userPerm == requiredPerm {
				return true
			}
		}
	}
	return false
}

func (c *DefaultPermissionChecker) CanCancelPayments(userPermissions []string) bool {
	return c.HasAnyPermission(userPermissions, []string{PermissionPaymentsCancel})
}

func (c *DefaultPermissionChecker) CanRefundPayments(userPermissions []string) bool {
	return c.HasAnyPermission(userPermissions, []string{PermissionPaymentsRefund})
}
