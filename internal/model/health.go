package model

// HealthStatus represents the health state of a log unit
type HealthStatus struct {
	NodeID    string
	Status    NodeStatus
	Timestamp int64
	Metrics   HealthMetrics
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusStarting  NodeStatus = "starting"
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the figures the last health check saw
type HealthMetrics struct {
	DiskUsage   float64
	MemoryUsage float64
	OpenFiles   uint64
}
