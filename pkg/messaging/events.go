package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	EventTypeDepositMade    = "vault.deposit.made"
	EventTypeWithdrawalMade = "vault.withdrawal.made"

	EventTypeAssetAdded   = "vault.asset.added"
	EventTypeAssetRemoved = "vault.asset.removed"

	EventTypeCapacityUpdated        = "vault.limit.capacity_updated"
	EventTypeWithdrawalLimitUpdated = "vault.limit.withdrawal_updated"

	EventTypePaused   = "vault.paused"
	EventTypeUnpaused = "vault.unpaused"

	EventTypeRoleGranted = "vault.role.granted"
	EventTypeRoleRevoked = "vault.role.revoked"
)

// OperationEvent is emitted for every completed deposit or withdrawal.
// Decimal fields are string-encoded. Events are advisory for off-chain
// observers and are not part of the consistency model.
type OperationEvent struct {
	OperationID    uuid.UUID `json:"operation_id"`
	Principal      string    `json:"principal"`
	Asset          string    `json:"asset"`
	NativeAmount   string    `json:"native_amount"`
	CanonicalValue string    `json:"canonical_value"`
	BalanceBefore  string    `json:"balance_before"`
	BalanceAfter   string    `json:"balance_after"`
	CanonicalTotal string    `json:"canonical_total"`
	Timestamp      time.Time `json:"timestamp"`
}

// AssetEvent is emitted when the registry changes.
type AssetEvent struct {
	Asset      string `json:"asset"`
	Decimals   int32  `json:"decimals,omitempty"`
	SourceKind string `json:"source_kind,omitempty"`
	SourceRef  string `json:"source_ref,omitempty"`
	Actor      string `json:"actor"`
}

// LimitEvent is emitted when capacity or the withdrawal limit changes.
type LimitEvent struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Actor    string `json:"actor"`
}

// PauseEvent is emitted on pause gate transitions.
type PauseEvent struct {
	Paused bool   `json:"paused"`
	Actor  string `json:"actor"`
}

// RoleEvent is emitted on role grants and revocations for auditability.
type RoleEvent struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
	Actor     string `json:"actor"`
}
