package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
)

// JobSpec names one read-view rebuild a delivered event requires.
type JobSpec struct {
	View entities.ViewName
	Key  string
}

// NotificationSpec describes a recipient notification. Exactly one of
// RecipientID or RecipientPermission is set; the latter fans out to every
// member whose role grants that permission.
type NotificationSpec struct {
	Kind                string
	RecipientID         string
	RecipientPermission string
	Message             string
}

// DeliveryPlan is everything the default delivery handler derives from one event.
type DeliveryPlan struct {
	Jobs          []JobSpec
	Notifications []NotificationSpec
}

// PlanDelivery maps an outbox event onto read-view jobs and notifications.
func PlanDelivery(payload entities.EventPayload) DeliveryPlan {
	var plan DeliveryPlan
	switch entities.EntityType(payload.EntityType) {
	case entities.EntityTypeProject:
		plan.Jobs = append(plan.Jobs, JobSpec{View: entities.ViewProjectFinancials, Key: payload.EntityID})
	case entities.EntityTypeLedger:
		if projectID := payload.Field("projectId"); projectID != "" {
			plan.Jobs = append(plan.Jobs, JobSpec{View: entities.ViewProjectFinancials, Key: projectID})
		}
	case entities.EntityTypeTransaction:
		if projectID := payload.Field("projectId"); projectID != "" {
			plan.Jobs = append(plan.Jobs, JobSpec{View: entities.ViewProjectFinancials, Key: projectID})
		}
		plan.Jobs = append(plan.Jobs,
			JobSpec{View: entities.ViewApprovalInbox, Key: entities.TenantWideViewKey},
			JobSpec{View: entities.ViewMemberWorkload, Key: entities.TenantWideViewKey},
		)
		if payload.EventType == entities.EventTypeTransactionStateChange {
			plan.Notifications = transitionNotifications(payload)
		}
	case entities.EntityTypeMember:
		plan.Jobs = append(plan.Jobs, JobSpec{View: entities.ViewMemberWorkload, Key: entities.TenantWideViewKey})
		if payload.EventType == entities.EventTypeMemberRoleChanged && payload.EntityID != "" {
			memberUser := payload.Field("userId")
			if memberUser == "" {
				memberUser = payload.EntityID
			}
			plan.Notifications = append(plan.Notifications, NotificationSpec{
				Kind:        "member.role_changed",
				RecipientID: memberUser,
				Message:     fmt.Sprintf("Your role is now %s", payload.Field("role")),
			})
		}
	}
	return plan
}

func transitionNotifications(payload entities.EventPayload) []NotificationSpec {
	switch entities.TransactionState(payload.ToState) {
	case entities.TransactionStateSubmitted:
		return []NotificationSpec{{
			Kind:                "transaction.awaiting_approval",
			RecipientPermission: entities.PermissionTransactionApprove,
			Message:             fmt.Sprintf("Transaction %s is awaiting approval", payload.EntityID),
		}}
	case entities.TransactionStateApproved, entities.TransactionStateRejected:
		recipients := uniqueNonEmpty(payload.Field("submittedBy"), payload.Field("createdBy"))
		out := make([]NotificationSpec, 0, len(recipients))
		for _, recipient := range recipients {
			if recipient == payload.ActorID {
				continue
			}
			message := fmt.Sprintf("Transaction %s was approved", payload.EntityID)
			if payload.ToState == string(entities.TransactionStateRejected) {
				message = fmt.Sprintf("Transaction %s was rejected: %s", payload.EntityID, payload.Reason)
			}
			out = append(out, NotificationSpec{
				Kind:        "transaction." + strings.ToLower(payload.ToState),
				RecipientID: recipient,
				Message:     message,
			})
		}
		return out
	default:
		return nil
	}
}

// NotificationID is deterministic per (event, recipient, kind) so re-delivery
// creates nothing new.
func NotificationID(eventID string, recipientID string, kind string) string {
	sum := sha256.Sum256([]byte(eventID + "\x1f" + kind + "\x1f" + recipientID))
	return "ntf_" + hex.EncodeToString(sum[:16])
}

func uniqueNonEmpty(values ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
