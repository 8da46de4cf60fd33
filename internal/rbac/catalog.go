package rbac

// ResourceGroup buckets catalog entries for administrative listings.
type ResourceGroup string

const (
	GroupContent  ResourceGroup = "content"
	GroupBusiness ResourceGroup = "business"
	GroupUsers    ResourceGroup = "users"
	GroupSystem   ResourceGroup = "system"
	GroupAdmin    ResourceGroup = "admin"
)

// CatalogEntry documents a resource and the actions meaningful for it.
// The catalog is reference data for administrative UIs; the resolver
// never consults it.
type CatalogEntry struct {
	Resource    string        `json:"resource"`
	Group       ResourceGroup `json:"group"`
	Description string        `json:"description"`
	Actions     []Action      `json:"actions"`
}

var catalog = []CatalogEntry{
	{
		Resource:    "blog-posts",
		Group:       GroupContent,
		Description: "Blog articles published on the platform",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish, ActionModerate},
	},
	{
		Resource:    "forum-threads",
		Group:       GroupContent,
		Description: "Community forum threads and replies",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionModerate},
	},
	{
		Resource:    "companies",
		Group:       GroupBusiness,
		Description: "Company profiles",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove},
	},
	{
		Resource:    "job-offers",
		Group:       GroupBusiness,
		Description: "Job offers posted by companies",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish, ActionApprove},
	},
	{
		Resource:    "consulting-services",
		Group:       GroupBusiness,
		Description: "Consulting service listings",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish},
	},
	{
		Resource:    "users",
		Group:       GroupUsers,
		Description: "User accounts",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport},
	},
	{
		Resource:    "roles",
		Group:       GroupAdmin,
		Description: "Roles and their permission grants",
		Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	},
	{
		Resource:    "permissions",
		Group:       GroupAdmin,
		Description: "Permission catalog",
		Actions:     []Action{ActionRead},
	},
	{
		Resource:    "audit-logs",
		Group:       GroupAdmin,
		Description: "Role mutation audit trail",
		Actions:     []Action{ActionRead, ActionExport},
	},
	{
		Resource:    "system",
		Group:       GroupSystem,
		Description: "Platform-wide administrative controls",
		Actions:     []Action{ActionRead, ActionUpdate, ActionImport, ActionExport},
	},
}

// Catalog returns the fixed permission catalog.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogByGroup returns catalog entries belonging to the given group.
func CatalogByGroup(group ResourceGroup) []CatalogEntry {
	var out []CatalogEntry
	for _, entry := range catalog {
		if entry.Group == group {
			out = append(out, entry)
		}
	}
	return out
}
