package data

// AuditAction is the action column of credential_audit_logs.
type AuditAction string

const (
	AuditActionConnect           AuditAction = "connect"
	AuditActionRefresh           AuditAction = "refresh"
	AuditActionRefreshFailed     AuditAction = "refresh_failed"
	AuditActionReconnectRequired AuditAction = "reconnect_required"
	AuditActionDisconnect        AuditAction = "disconnect"
)

func (a AuditAction) String() string {
	return string(a)
}
