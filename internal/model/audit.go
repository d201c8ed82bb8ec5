package model

import "time"

// ActivityLog represents an append-only audit trail entry
type ActivityLog struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
	IPAddress *string                `json:"ipAddress,omitempty"`
	UserAgent *string                `json:"userAgent,omitempty"`
}

// ActivityFilter narrows an activity log query
type ActivityFilter struct {
	UserID string
	Action string
	Limit  int
}

// AnonymousUserID replaces the acting user id when a deleted user's
// audit trail is anonymized
const AnonymousUserID = "deleted-user"

// Audit action constants
const (
	AuditActionUserCreated     = "user.created"
	AuditActionUserUpdated     = "user.updated"
	AuditActionUserDeleted     = "user.deleted"
	AuditActionLogin           = "user.login"
	AuditActionLoginFailed     = "user.login_failed"
	AuditActionLogout          = "user.logout"
	AuditActionRoleUpdated     = "role.updated"
	AuditActionSessionsRevoked = "session.revoked_all"
)

// NewActivityLog builds an entry stamped at now with the client metadata
func NewActivityLog(id, userID, action string, details map[string]interface{}, now time.Time, client ClientInfo) *ActivityLog {
	if details == nil {
		details = map[string]interface{}{}
	}
	if client.RequestID != "" {
		if _, ok := details["request_id"]; !ok {
			details["request_id"] = client.RequestID
		}
	}
	return &ActivityLog{
		ID:        id,
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: now,
		IPAddress: client.ipPtr(),
		UserAgent: client.uaPtr(),
	}
}
