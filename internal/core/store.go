package core

import "context"

// Store persists organizations, products and count records. Every method is
// scoped to one organization; an id belonging to another organization is
// reported as not found.
//
// Implementations return ErrProductNotFound or ErrOrgNotFound (possibly
// wrapped) for missing rows, and deliver Changes for every confirmed write,
// including their own, on the channel returned by Subscribe.
type Store interface {
	Ping(ctx context.Context) error

	GetOrganization(ctx context.Context, orgID string) (Organization, error)

	ListProducts(ctx context.Context, orgID string) ([]Product, error)
	FindProductBySKU(ctx context.Context, orgID, sku string) (Product, error)
	InsertProduct(ctx context.Context, orgID string, in ProductInput) (Product, error)
	InsertProducts(ctx context.Context, orgID string, in []ProductInput) ([]Product, error)
	UpdateProduct(ctx context.Context, orgID, id string, u ProductUpdate) (Product, error)
	BulkUpdateExpectedStock(ctx context.Context, orgID string, ids []string, expected int) ([]Product, error)
	DeleteProduct(ctx context.Context, orgID, id string) error
	DeleteProducts(ctx context.Context, orgID string, ids []string) (int64, error)
	// DeleteAllProducts and DeleteAllCounts return the ids they removed.
	DeleteAllProducts(ctx context.Context, orgID string) ([]string, error)

	ListCounts(ctx context.Context, orgID string) ([]CountRecord, error)
	InsertCount(ctx context.Context, orgID string, in CountInput) (CountRecord, error)
	DeleteAllCounts(ctx context.Context, orgID string) ([]string, error)

	// Subscribe streams changes for orgID until ctx is cancelled, then
	// closes the channel.
	Subscribe(ctx context.Context, orgID string) (<-chan Change, error)
}
