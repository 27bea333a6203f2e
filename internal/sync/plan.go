package sync

// Table describes one synchronizable table: its identity column, the
// columns stored as 0/1 integers locally but booleans remotely, the
// column (if any) holding an image reference, and the tables it depends
// on through foreign keys.
type Table struct {
	Name           string
	IdentityColumn string
	BooleanColumns []string
	ImageColumn    string
	DependsOn      []string

	// Keyed marks a settings-style table identified by a unique string
	// key rather than a numeric id. Keyed tables are upserted row by row
	// on pull instead of replaced wholesale.
	Keyed bool
}

// SettingsTable is the generic key/value table shared between synced
// remote settings and local-only configuration.
const SettingsTable = "settings"

// ProtectedSettingKeys are never overwritten by a pull; they hold the
// credentials that make sync possible in the first place.
var ProtectedSettingKeys = []string{
	SettingRemoteEndpoint,
	SettingRemoteSecret,
}

// Setting keys touched by the sync engine.
const (
	SettingLastSync         = "last_sync_timestamp"
	SettingRemoteEndpoint   = "remote_endpoint"
	SettingRemoteSecret     = "remote_secret"
	SettingAutoSyncInterval = "auto_sync_interval"
)

// Plan is the fixed table sync order: parents before children. Push and
// pull walk it forward; orphan deletion walks it reversed so children go
// before parents and remote foreign keys stay satisfied. The order is
// asserted against DependsOn by a test.
var Plan = []Table{
	{Name: "categories", IdentityColumn: "id", BooleanColumns: []string{"is_active"}, ImageColumn: "image_path"},
	{Name: "taxes", IdentityColumn: "id", BooleanColumns: []string{"is_inclusive", "is_default"}},
	{Name: "discounts", IdentityColumn: "id", BooleanColumns: []string{"is_percentage", "is_active"}},
	{Name: "suppliers", IdentityColumn: "id", BooleanColumns: []string{"is_active"}},
	{Name: "staff", IdentityColumn: "id", BooleanColumns: []string{"is_admin", "is_active"}},
	{Name: "customers", IdentityColumn: "id", BooleanColumns: []string{"is_member"}},
	{Name: "dining_tables", IdentityColumn: "id", BooleanColumns: []string{"is_occupied"}},
	{Name: "products", IdentityColumn: "id", BooleanColumns: []string{"is_active", "track_inventory"}, ImageColumn: "image_path",
		DependsOn: []string{"categories", "taxes"}},
	{Name: "product_variants", IdentityColumn: "id", BooleanColumns: []string{"is_default"},
		DependsOn: []string{"products"}},
	{Name: "modifier_groups", IdentityColumn: "id", BooleanColumns: []string{"is_required"}},
	{Name: "modifiers", IdentityColumn: "id", BooleanColumns: []string{"is_active"},
		DependsOn: []string{"modifier_groups"}},
	{Name: "product_modifier_groups", IdentityColumn: "id",
		DependsOn: []string{"products", "modifier_groups"}},
	{Name: "inventory_items", IdentityColumn: "id",
		DependsOn: []string{"products", "suppliers"}},
	{Name: "inventory_movements", IdentityColumn: "id",
		DependsOn: []string{"inventory_items", "staff"}},
	{Name: "shifts", IdentityColumn: "id", BooleanColumns: []string{"is_reconciled"},
		DependsOn: []string{"staff"}},
	{Name: "orders", IdentityColumn: "id", BooleanColumns: []string{"is_takeaway"},
		DependsOn: []string{"customers", "staff", "dining_tables"}},
	{Name: "order_items", IdentityColumn: "id", BooleanColumns: []string{"is_voided"},
		DependsOn: []string{"orders", "products", "product_variants"}},
	{Name: "order_item_modifiers", IdentityColumn: "id",
		DependsOn: []string{"order_items", "modifiers"}},
	{Name: "transactions", IdentityColumn: "id", BooleanColumns: []string{"is_refunded"},
		DependsOn: []string{"orders", "shifts"}},
	{Name: "payments", IdentityColumn: "id", BooleanColumns: []string{"is_card"},
		DependsOn: []string{"transactions"}},
	{Name: SettingsTable, IdentityColumn: "key", Keyed: true},
}

// AnchorTables are the tables whose emptiness marks a freshly installed
// client; fullSync skips the push phase when both are empty so a new
// install cannot wipe remote data.
var AnchorTables = []string{"products", "transactions"}

// Reversed returns the plan in child-before-parent order for deletion.
func Reversed() []Table {
	out := make([]Table, len(Plan))
	for i, t := range Plan {
		out[len(Plan)-1-i] = t
	}
	return out
}

// PlanTable looks up a table by name; ok is false if the table is not
// part of the sync plan.
func PlanTable(name string) (Table, bool) {
	for _, t := range Plan {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
