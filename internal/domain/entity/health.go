package entity

const StatusHealthy = "healthy"

type HealthStatus struct {
	Status string `json:"status"`
}
