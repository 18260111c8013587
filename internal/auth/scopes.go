package auth

// Known OAuth scopes used by the service.
const (
	ScopeFootprintWrite = "footprint:write"
	ScopeFootprintRead  = "footprint:read"
)
