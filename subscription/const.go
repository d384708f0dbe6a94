package subscription

// Status is the custom type to define the lifecycle state of a subscription Record
type Status string

// Status transitions within one external subscription's lifeline:
// (none) -> active -> {inactive, cancelled}; inactive -> active on a
// re-succeeded payment; cancelled is terminal.
const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
)
