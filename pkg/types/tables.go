package types

// Stored entity kinds. The SQL store uses them as table names.
const (
	TextsTable           = "texts"
	LocationsTable       = "locations"
	PrincipalsTable      = "principals"
	ResourcesTable       = "resources"
	SharesTable          = "resource_shares"
	ContentsTable        = "contents"
	PrecomputedDataTable = "precomputed"
)

// StandardTableNames lists every table the store creates.
var StandardTableNames = []string{
	TextsTable,
	LocationsTable,
	PrincipalsTable,
	ResourcesTable,
	SharesTable,
	ContentsTable,
	PrecomputedDataTable,
}
