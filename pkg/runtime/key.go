package runtime

// Deterministic coordinator key builders, one per entity kind named in
// the system overview.

// TenantKey is the key for a tenant's TenantCoordinator.
func TenantKey(tenantID string) string { return tenantID }

// RoomKey is the key for a (tenant, room) RoomCoordinator.
func RoomKey(tenantID, roomID string) string { return tenantID + "|" + roomID }

// LedgerKey is the key for a tenant's single ledger shard ("0" in this
// core; one shard per tenant).
func LedgerKey(tenantID string) string { return tenantID + "|ledger|0" }

// WorkspaceKey is the key for a (tenant, workspace) WorkspaceCoordinator.
func WorkspaceKey(tenantID, workspaceID string) string { return tenantID + "|" + workspaceID }
