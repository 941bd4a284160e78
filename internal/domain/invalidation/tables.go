package invalidation

// Resource-table identifiers carried in messages. Every mutated table in a
// committed batch must appear in the batch's message set; under-reporting
// leaves remote caches stale.
const (
	TableTenants     = "tenants"
	TablePrincipals  = "principals"
	TableSuspensions = "suspensions"
	TableHosts       = "hosts"
	TableGrants      = "tenant_host_grants"
	TableResources   = "resources"
)
